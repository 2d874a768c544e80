package reclaim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tracker-backend/internal/database"
	"tracker-backend/internal/messaging"

	"gorm.io/gorm"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryTimeout = 60 * time.Second
	DefaultPollInterval = 15 * time.Second

	// batchSize bounds how many records a single sweep pass loads for one
	// (company, storage type) pair.
	batchSize = 10000
)

// Reclaimer drains UrlToDelete records by handing their paths to the storage
// backend matching each record's storage type. Records that cannot be deleted
// are stamped for retry and eventually marked failed, so every sweep makes
// progress.
type Reclaimer struct {
	db       *gorm.DB
	backends map[string]Backend
	reciever messaging.Reciever

	maxRetries   int
	retryTimeout time.Duration
	pollInterval time.Duration
}

func NewReclaimer(db *gorm.DB, backends map[string]Backend, reciever messaging.Reciever) *Reclaimer {
	return &Reclaimer{
		db:           db,
		backends:     backends,
		reciever:     reciever,
		maxRetries:   DefaultMaxRetries,
		retryTimeout: DefaultRetryTimeout,
		pollInterval: DefaultPollInterval,
	}
}

// SetRetryPolicy overrides the retry budget and failure backoff.
func (r *Reclaimer) SetRetryPolicy(maxRetries int, retryTimeout time.Duration) {
	r.maxRetries = maxRetries
	r.retryTimeout = retryTimeout
}

// dueQuery matches records eligible for a delete attempt: not terminally
// failed, under the retry budget, and past the back-off window since their
// last failure.
func (r *Reclaimer) dueQuery(now time.Time) *gorm.DB {
	return r.db.Model(&database.UrlToDelete{}).
		Where("status <> ?", database.DeletionFailed).
		Where("retry_count < ?", r.maxRetries).
		Where("last_failure_time IS NULL OR last_failure_time < ?", now.Add(-r.retryTimeout))
}

// Sweep processes one (company, storage type) batch of due records. It
// returns the number of records it attempted, zero meaning nothing was due.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	var next database.UrlToDelete
	err := r.dueQuery(now).Order("retry_count asc").First(&next).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error querying for due urls: %w", err)
	}

	var records []database.UrlToDelete
	err = r.dueQuery(now).
		Where("company = ? AND storage_type = ?", next.Company, next.StorageType).
		Order("url asc").Limit(batchSize).
		Find(&records).Error
	if err != nil {
		return 0, fmt.Errorf("error loading url batch: %w", err)
	}

	backend, ok := r.backends[next.StorageType]
	if !ok {
		slog.Warn("no storage client configured, marking urls failed",
			"storage_type", next.StorageType, "count", len(records))
		if err := r.markFailed(ctx, records, "no client configured for storage type"); err != nil {
			return 0, err
		}
		return len(records), nil
	}

	if err := r.deleteBatch(ctx, backend, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (r *Reclaimer) deleteBatch(ctx context.Context, backend Backend, records []database.UrlToDelete) error {
	byPath := make(map[string]database.UrlToDelete, len(records))
	var paths []string
	for _, record := range records {
		path, err := backend.GetPath(record)
		if err != nil {
			if markErr := r.markFailed(ctx, []database.UrlToDelete{record}, err.Error()); markErr != nil {
				return markErr
			}
			continue
		}
		byPath[path] = record
		paths = append(paths, path)
	}

	chunkSize := backend.ChunkSize()
	for start := 0; start < len(paths); start += chunkSize {
		end := min(start+chunkSize, len(paths))
		chunk := paths[start:end]

		deleted, failures, err := backend.DeleteMany(ctx, chunk)
		if err != nil {
			slog.Error("batch delete failed", "backend", backend.Name(), "count", len(chunk), "error", err)
			chunkRecords := make([]database.UrlToDelete, 0, len(chunk))
			for _, path := range chunk {
				chunkRecords = append(chunkRecords, byPath[path])
			}
			return r.markRetryFailed(ctx, chunkRecords, err.Error())
		}

		if len(deleted) > 0 {
			ids := make([]string, 0, len(deleted))
			for _, path := range deleted {
				if record, ok := byPath[path]; ok {
					ids = append(ids, record.Id)
				}
			}
			err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&database.UrlToDelete{}).Error
			if err != nil {
				return fmt.Errorf("error removing deleted url records: %w", err)
			}
			slog.Info("deleted storage urls", "backend", backend.Name(), "count", len(ids))
		}

		for reason, failedPaths := range failures {
			failedRecords := make([]database.UrlToDelete, 0, len(failedPaths))
			for _, path := range failedPaths {
				if record, ok := byPath[path]; ok {
					failedRecords = append(failedRecords, record)
				}
			}
			if err := r.markRetryFailed(ctx, failedRecords, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

// markRetryFailed stamps a failed attempt on the records and flips those that
// exhausted their retry budget to failed.
func (r *Reclaimer) markRetryFailed(ctx context.Context, records []database.UrlToDelete, reason string) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.Id
	}

	err := r.db.WithContext(ctx).Model(&database.UrlToDelete{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"retry_count":         gorm.Expr("retry_count + 1"),
			"last_failure_time":   time.Now().UTC(),
			"last_failure_reason": reason,
			"status":              database.DeletionRetrying,
		}).Error
	if err != nil {
		return fmt.Errorf("error stamping retry failure: %w", err)
	}

	err = r.db.WithContext(ctx).Model(&database.UrlToDelete{}).
		Where("id IN ? AND retry_count >= ?", ids, r.maxRetries).
		Update("status", database.DeletionFailed).Error
	if err != nil {
		return fmt.Errorf("error marking urls failed: %w", err)
	}
	return nil
}

// markFailed moves records straight to failed, bypassing retries.
func (r *Reclaimer) markFailed(ctx context.Context, records []database.UrlToDelete, reason string) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.Id
	}
	err := r.db.WithContext(ctx).Model(&database.UrlToDelete{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"last_failure_time":   time.Now().UTC(),
			"last_failure_reason": reason,
			"status":              database.DeletionFailed,
		}).Error
	if err != nil {
		return fmt.Errorf("error marking urls failed: %w", err)
	}
	return nil
}

// drain sweeps until no records are due.
func (r *Reclaimer) drain(ctx context.Context) {
	for {
		n, err := r.Sweep(ctx)
		if err != nil {
			slog.Error("url sweep failed", "error", err)
			return
		}
		if n == 0 {
			return
		}
	}
}

// Run sweeps on every nudge from the scheduler queue and on a steady poll
// interval, until the context is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var nudges <-chan messaging.Task
	if r.reciever != nil {
		nudges = r.reciever.Tasks()
	}

	r.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-nudges:
			if !ok {
				nudges = nil
				continue
			}
			r.drain(ctx)
			if err := task.Ack(); err != nil {
				slog.Error("error acking nudge", "error", err)
			}
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}
