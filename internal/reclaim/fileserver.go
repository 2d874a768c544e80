package reclaim

import (
	"context"
	"fmt"
	"strings"

	"tracker-backend/internal/database"

	"github.com/go-resty/resty/v2"
)

// FileserverBackend deletes files hosted on the fileserver through its
// batch endpoint. Paths are the url with the matching prefix stripped.
type FileserverBackend struct {
	client   *resty.Client
	prefixes []string
}

var _ Backend = (*FileserverBackend)(nil)

func NewFileserverBackend(host string, prefixes []string) *FileserverBackend {
	return &FileserverBackend{
		client:   resty.New().SetBaseURL(strings.TrimRight(host, "/")),
		prefixes: prefixes,
	}
}

func (b *FileserverBackend) Name() string {
	return "Fileserver"
}

func (b *FileserverBackend) ChunkSize() int {
	return 10000
}

func (b *FileserverBackend) GetPath(record database.UrlToDelete) (string, error) {
	for _, prefix := range b.prefixes {
		if strings.HasPrefix(record.Url, prefix) {
			path := strings.TrimLeft(strings.TrimPrefix(record.Url, prefix), "/")
			if path == "" {
				return "", fmt.Errorf("empty path after prefix in %s", record.Url)
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("url does not match any fileserver prefix: %s", record.Url)
}

type deleteManyRequest struct {
	Files []string `json:"files"`
}

type deleteManyResponse struct {
	Deleted []string            `json:"deleted"`
	Errors  map[string][]string `json:"errors"`
}

func (b *FileserverBackend) DeleteMany(ctx context.Context, paths []string) ([]string, map[string][]string, error) {
	var result deleteManyResponse
	res, err := b.client.R().
		SetContext(ctx).
		SetBody(deleteManyRequest{Files: paths}).
		SetResult(&result).
		Post("/delete_many")
	if err != nil {
		return nil, nil, fmt.Errorf("error calling fileserver delete_many: %w", err)
	}
	if res.IsError() {
		return nil, nil, fmt.Errorf("fileserver delete_many returned status %d", res.StatusCode())
	}

	failures := result.Errors
	if failures == nil {
		failures = make(map[string][]string)
	}
	return result.Deleted, failures, nil
}
