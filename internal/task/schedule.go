package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"tracker-backend/internal/config"
	"tracker-backend/internal/database"
	"tracker-backend/internal/messaging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scheduler records durable deletion intents for externally stored objects.
// The actual deletes happen later in the reclamation worker; this only
// classifies, deduplicates and persists.
type Scheduler struct {
	db        *gorm.DB
	cfg       *config.Config
	publisher messaging.Publisher
}

// NewScheduler returns a scheduler using the configured prefix table. The
// publisher may be nil; it is only used to nudge the reclaimer and scheduling
// is complete once the records are written.
func NewScheduler(db *gorm.DB, cfg *config.Config, publisher messaging.Publisher) *Scheduler {
	return &Scheduler{db: db, cfg: cfg, publisher: publisher}
}

func (s *Scheduler) storageType(u string) string {
	for prefix, storageType := range s.cfg.StoragePrefixes {
		if strings.HasPrefix(u, prefix) {
			return storageType
		}
	}
	return ""
}

// folderTarget collapses a url with more than one path segment to its parent
// folder, dropping query and fragment. Returns "" when the url has no folder
// to collapse to.
func folderTarget(rawUrl string) string {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return ""
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 {
		return ""
	}

	parsed.Path = "/" + strings.Join(segments[:len(segments)-1], "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/")
}

// ScheduleForDelete persists one deletion intent per distinct storage target
// and returns the set of input urls covered by an intent. Urls matching no
// configured storage prefix are left out of the returned set for the caller
// to retain.
//
// Folder collapsing applies only to the fileserver backend, and only when the
// caller determined no surviving model can reference a sibling object.
func (s *Scheduler) ScheduleForDelete(ctx context.Context, company, userId, taskId string, urls map[string]struct{}, canDeleteFolders bool) (map[string]struct{}, error) {
	urlsPerStorage := make(map[string][]string)
	for u := range urls {
		if storageType := s.storageType(u); storageType != "" {
			urlsPerStorage[storageType] = append(urlsPerStorage[storageType], u)
		}
	}

	processed := make(map[string]struct{})
	scheduledCount := 0
	for storageType, storageUrls := range urlsPerStorage {
		deleteFolders := storageType == database.StorageFileserver && canDeleteFolders

		scheduled := make(map[string]struct{})
		for _, u := range storageUrls {
			folder := ""
			if deleteFolders {
				folder = folderTarget(u)
			}

			toDelete := u
			fileType := database.FileTypeFile
			if folder != "" {
				toDelete = folder
				fileType = database.FileTypeFolder
			}

			if _, ok := scheduled[toDelete]; ok {
				processed[u] = struct{}{}
				continue
			}

			if err := s.upsertUrlToDelete(ctx, company, userId, taskId, toDelete, storageType, fileType); err != nil {
				return nil, err
			}

			processed[u] = struct{}{}
			scheduled[toDelete] = struct{}{}
			scheduledCount++
		}
	}

	if scheduledCount > 0 && s.publisher != nil {
		payload := messaging.UrlsScheduledPayload{Company: company, TaskId: taskId, Count: scheduledCount}
		if err := s.publisher.PublishUrlsScheduled(ctx, payload); err != nil {
			slog.Warn("error nudging reclaimer, scheduled urls will wait for the next sweep",
				"company", company, "task_id", taskId, "error", err)
		}
	}

	return processed, nil
}

// upsertUrlToDelete inserts the intent, falling back to a reset-update when a
// concurrent caller (or an earlier cleanup) already created a record for the
// same (company, url). The conflict is detected on insert, not checked first.
func (s *Scheduler) upsertUrlToDelete(ctx context.Context, company, userId, taskId, targetUrl, storageType, fileType string) error {
	record := database.UrlToDelete{
		Id:          uuid.NewString(),
		Company:     company,
		UserId:      userId,
		Url:         targetUrl,
		TaskId:      taskId,
		Created:     time.Now().UTC(),
		StorageType: storageType,
		Type:        fileType,
		Status:      database.DeletionCreated,
	}

	err := s.db.WithContext(ctx).Create(&record).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("error scheduling url %s for deletion: %w", targetUrl, err)
	}

	updates := map[string]any{
		"user_id":             userId,
		"task_id":             taskId,
		"created":             time.Now().UTC(),
		"retry_count":         0,
		"last_failure_time":   sql.NullTime{},
		"last_failure_reason": "",
		"status":              database.DeletionCreated,
	}
	if err := s.db.WithContext(ctx).Model(&database.UrlToDelete{}).
		Where("company = ? AND url = ?", company, targetUrl).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("error resetting existing deletion record for url %s: %w", targetUrl, err)
	}
	return nil
}
