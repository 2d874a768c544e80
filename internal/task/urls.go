package task

import (
	"context"
	"fmt"

	"tracker-backend/internal/database"
	"tracker-backend/internal/events"
)

// CollectDebugImageUrls pages through the debug image stream of a task or
// model and returns the unique set of image urls. The store's continuation
// key guarantees recycled urls are observed at most once.
func CollectDebugImageUrls(ctx context.Context, store events.Store, company, ownerId string) (map[string]struct{}, error) {
	urls := make(map[string]struct{})
	afterKey := ""
	for {
		page, nextKey, err := store.GetDebugImageUrls(ctx, company, ownerId, afterKey)
		if err != nil {
			return nil, fmt.Errorf("error collecting debug image urls for %s: %w", ownerId, err)
		}
		for _, u := range page {
			urls[u] = struct{}{}
		}
		if nextKey == "" {
			break
		}
		afterKey = nextKey
	}

	return urls, nil
}

// CollectPlotImageUrls pages through the plot events of a task or model and
// returns the unique set of embedded source urls.
func CollectPlotImageUrls(ctx context.Context, store events.Store, company, ownerId string) (map[string]struct{}, error) {
	urls := make(map[string]struct{})
	scrollId := ""
	for {
		page, nextScroll, err := store.GetPlotImageUrls(ctx, company, ownerId, scrollId)
		if err != nil {
			return nil, fmt.Errorf("error collecting plot image urls for %s: %w", ownerId, err)
		}
		for _, event := range page {
			for _, u := range event.SourceUrls {
				urls[u] = struct{}{}
			}
		}
		if nextScroll == "" {
			break
		}
		scrollId = nextScroll
	}

	return urls, nil
}

// collectArtifactUrls reads output artifact uris synchronously from the
// task's execution record.
func collectArtifactUrls(t *database.Task) (map[string]struct{}, error) {
	artifacts, err := t.ArtifactMap()
	if err != nil {
		return nil, err
	}

	urls := make(map[string]struct{})
	for _, a := range artifacts {
		if a.Mode == database.ArtifactModeOutput && a.Uri != "" {
			urls[a.Uri] = struct{}{}
		}
	}
	return urls, nil
}
