// Package reclaim implements the background worker that consumes UrlToDelete
// records and performs the actual storage-backend deletes, with retry
// bookkeeping. It is the asynchronous half of the deferred deletion scheduler.
package reclaim

import (
	"context"

	"tracker-backend/internal/database"
)

// Backend deletes objects from one storage type in batches.
type Backend interface {
	Name() string

	// ChunkSize bounds how many paths one DeleteMany call may carry.
	ChunkSize() int

	// GetPath converts a deletion record into the backend's path form.
	GetPath(record database.UrlToDelete) (string, error)

	// DeleteMany deletes the given paths. It returns the paths confirmed
	// deleted and the paths that failed grouped by failure reason; err is
	// reserved for whole-batch failures.
	DeleteMany(ctx context.Context, paths []string) (deleted []string, failures map[string][]string, err error)
}
