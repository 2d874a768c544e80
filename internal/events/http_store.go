package events

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// HTTPStore talks to the event service's internal REST API.
type HTTPStore struct {
	client *resty.Client
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{client: resty.New().SetBaseURL(baseURL)}
}

type scanRequest struct {
	Company string `json:"company"`
	OwnerId string `json:"owner_id"`
	Cursor  string `json:"cursor,omitempty"`
}

type debugImagesResponse struct {
	Urls     []string `json:"urls"`
	AfterKey string   `json:"after_key"`
}

func (s *HTTPStore) GetDebugImageUrls(ctx context.Context, company, ownerId, afterKey string) ([]string, string, error) {
	var body debugImagesResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(scanRequest{Company: company, OwnerId: ownerId, Cursor: afterKey}).
		SetResult(&body).
		Post("/debug_images/scan")
	if err != nil {
		return nil, "", fmt.Errorf("error scanning debug images for %s: %w", ownerId, err)
	}
	if res.IsError() {
		return nil, "", fmt.Errorf("debug image scan for %s failed with status %d", ownerId, res.StatusCode())
	}

	return body.Urls, body.AfterKey, nil
}

type plotsResponse struct {
	Events   []PlotEvent `json:"events"`
	ScrollId string      `json:"scroll_id"`
}

func (s *HTTPStore) GetPlotImageUrls(ctx context.Context, company, ownerId, scrollId string) ([]PlotEvent, string, error) {
	var body plotsResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(scanRequest{Company: company, OwnerId: ownerId, Cursor: scrollId}).
		SetResult(&body).
		Post("/plots/scan")
	if err != nil {
		return nil, "", fmt.Errorf("error scanning plots for %s: %w", ownerId, err)
	}
	if res.IsError() {
		return nil, "", fmt.Errorf("plot scan for %s failed with status %d", ownerId, res.StatusCode())
	}

	return body.Events, body.ScrollId, nil
}

type deleteEventsRequest struct {
	Company     string `json:"company"`
	OwnerId     string `json:"owner_id"`
	AllowLocked bool   `json:"allow_locked"`
	ModelEvents bool   `json:"model_events"`
	AsyncDelete bool   `json:"async_delete"`
}

func (s *HTTPStore) DeleteOwnerEvents(ctx context.Context, company, ownerId string, opts DeleteOptions) error {
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(deleteEventsRequest{
			Company:     company,
			OwnerId:     ownerId,
			AllowLocked: opts.AllowLocked,
			ModelEvents: opts.ModelEvents,
			AsyncDelete: opts.AsyncDelete,
		}).
		Post("/events/delete")
	if err != nil {
		return fmt.Errorf("error deleting events for %s: %w", ownerId, err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrInvalidOwnerId, ownerId)
	}
	if res.IsError() {
		return fmt.Errorf("event deletion for %s failed with status %d", ownerId, res.StatusCode())
	}

	return nil
}
