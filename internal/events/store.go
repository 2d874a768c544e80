// Package events wraps the external event store holding a task's scalar,
// plot and debug-image streams. The store is a collaborator: this package
// only defines the contract the cleanup subsystem needs and the clients that
// speak it.
package events

import (
	"context"
	"errors"
)

// ErrInvalidOwnerId is returned by DeleteOwnerEvents when the store does not
// recognize the owner (e.g. a model whose events were never indexed). Cleanup
// treats it as non-fatal.
var ErrInvalidOwnerId = errors.New("event store: no valid owner id")

// PlotEvent is the slice of a plot event relevant to url collection.
type PlotEvent struct {
	SourceUrls []string `json:"source_urls"`
}

// DeleteOptions control event deletion for one owner.
type DeleteOptions struct {
	// AllowLocked permits deletion of finalized (published) event data.
	AllowLocked bool
	// ModelEvents marks the owner as a model rather than a task.
	ModelEvents bool
	// AsyncDelete asks the store to queue the purge instead of blocking on it.
	AsyncDelete bool
}

// Store is the event-store contract. Both scan calls page through results
// with an opaque continuation token; an empty returned token means the scan
// is complete. The debug-image scan key is designed by the store so that
// recycled (circular-buffer) urls are observed at most once.
type Store interface {
	// GetDebugImageUrls returns one page of debug image urls for the owner.
	GetDebugImageUrls(ctx context.Context, company, ownerId, afterKey string) ([]string, string, error)

	// GetPlotImageUrls returns one page of plot events for the owner.
	GetPlotImageUrls(ctx context.Context, company, ownerId, scrollId string) ([]PlotEvent, string, error)

	// DeleteOwnerEvents purges all event streams of the owner.
	DeleteOwnerEvents(ctx context.Context, company, ownerId string, opts DeleteOptions) error
}
