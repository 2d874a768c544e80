package events

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemStore is an in-memory Store used in tests and local runs. Pages are cut
// from the seeded slices at PageSize to exercise the cursor protocol.
type MemStore struct {
	mu sync.Mutex

	PageSize int

	debugImages map[string][]string
	plotEvents  map[string][]PlotEvent
	locked      map[string]bool

	deleted []DeletedOwner
}

// DeletedOwner records one DeleteOwnerEvents call.
type DeletedOwner struct {
	Company string
	OwnerId string
	Opts    DeleteOptions
}

func NewMemStore() *MemStore {
	return &MemStore{
		PageSize:    100,
		debugImages: make(map[string][]string),
		plotEvents:  make(map[string][]PlotEvent),
		locked:      make(map[string]bool),
	}
}

func (s *MemStore) key(company, ownerId string) string {
	return company + "/" + ownerId
}

func (s *MemStore) AddDebugImages(company, ownerId string, urls ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(company, ownerId)
	s.debugImages[k] = append(s.debugImages[k], urls...)
}

func (s *MemStore) AddPlotUrls(company, ownerId string, urls ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(company, ownerId)
	s.plotEvents[k] = append(s.plotEvents[k], PlotEvent{SourceUrls: urls})
}

// Lock marks an owner's events as finalized, rejecting deletion without
// AllowLocked.
func (s *MemStore) Lock(company, ownerId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[s.key(company, ownerId)] = true
}

func (s *MemStore) Deleted() []DeletedOwner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeletedOwner(nil), s.deleted...)
}

func (s *MemStore) page(total int, cursor string) (int, int, string, error) {
	start := 0
	if cursor != "" {
		var err error
		if start, err = strconv.Atoi(cursor); err != nil {
			return 0, 0, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	end := start + s.PageSize
	next := ""
	if end >= total {
		end = total
	} else {
		next = strconv.Itoa(end)
	}
	return start, end, next, nil
}

func (s *MemStore) GetDebugImageUrls(ctx context.Context, company, ownerId, afterKey string) ([]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := s.debugImages[s.key(company, ownerId)]
	start, end, next, err := s.page(len(urls), afterKey)
	if err != nil {
		return nil, "", err
	}
	return urls[start:end], next, nil
}

func (s *MemStore) GetPlotImageUrls(ctx context.Context, company, ownerId, scrollId string) ([]PlotEvent, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.plotEvents[s.key(company, ownerId)]
	start, end, next, err := s.page(len(events), scrollId)
	if err != nil {
		return nil, "", err
	}
	return events[start:end], next, nil
}

func (s *MemStore) DeleteOwnerEvents(ctx context.Context, company, ownerId string, opts DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(company, ownerId)
	if opts.ModelEvents {
		if _, ok := s.debugImages[k]; !ok {
			if _, ok := s.plotEvents[k]; !ok {
				return fmt.Errorf("%w: %s", ErrInvalidOwnerId, ownerId)
			}
		}
	}
	if s.locked[k] && !opts.AllowLocked {
		return fmt.Errorf("events for %s are locked", ownerId)
	}

	delete(s.debugImages, k)
	delete(s.plotEvents, k)
	s.deleted = append(s.deleted, DeletedOwner{Company: company, OwnerId: ownerId, Opts: opts})
	return nil
}
