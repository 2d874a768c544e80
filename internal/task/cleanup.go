package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"tracker-backend/internal/config"
	"tracker-backend/internal/database"
	"tracker-backend/internal/events"

	"gorm.io/gorm"
)

// TaskUrls groups the external urls touched by one cleanup, by origin.
type TaskUrls struct {
	ModelUrls    []string
	EventUrls    []string
	ArtifactUrls []string
}

// MergeTaskUrls unions two url groups. The zero value is the identity.
func MergeTaskUrls(a, b TaskUrls) TaskUrls {
	return TaskUrls{
		ModelUrls:    unionStrings(a.ModelUrls, b.ModelUrls),
		EventUrls:    unionStrings(a.EventUrls, b.EventUrls),
		ArtifactUrls: unionStrings(a.ArtifactUrls, b.ArtifactUrls),
	}
}

func unionStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// CleanupResult counts the objects modified by one task cleanup. Urls is only
// populated when the caller asked for url reporting.
type CleanupResult struct {
	UpdatedChildren int64
	UpdatedModels   int64
	DeletedModels   int64
	Urls            *TaskUrls
}

// MergeCleanupResults sums two results so a tree of dependent cleanups can be
// computed incrementally. The zero value is the identity.
func MergeCleanupResults(a, b CleanupResult) CleanupResult {
	merged := CleanupResult{
		UpdatedChildren: a.UpdatedChildren + b.UpdatedChildren,
		UpdatedModels:   a.UpdatedModels + b.UpdatedModels,
		DeletedModels:   a.DeletedModels + b.DeletedModels,
	}
	switch {
	case a.Urls != nil && b.Urls != nil:
		urls := MergeTaskUrls(*a.Urls, *b.Urls)
		merged.Urls = &urls
	case a.Urls != nil:
		urls := *a.Urls
		merged.Urls = &urls
	case b.Urls != nil:
		urls := *b.Urls
		merged.Urls = &urls
	}
	return merged
}

// ModelRef is the minimal model projection cleanup works with.
type ModelRef struct {
	Id    string
	Ready bool
	Uri   string
}

// CleanupParams control one cleanup invocation.
type CleanupParams struct {
	// Force permits deleting a task with published children or output models.
	Force bool
	// UpdateChildren re-parents children and surviving models to the
	// deleted-marker id; otherwise model task references are unset.
	UpdateChildren bool
	// ReturnFileUrls includes the touched urls in the result.
	ReturnFileUrls bool
	// DeleteOutputModels hard-deletes draft output models not in use.
	DeleteOutputModels bool
	// DeleteExternalArtifacts schedules external storage deletes. Also gated
	// by the global async-delete toggle.
	DeleteExternalArtifacts bool
}

// Cleaner composes the resolver, the url collector and the deletion
// scheduler into the task cleanup entry point.
type Cleaner struct {
	db        *gorm.DB
	events    events.Store
	cfg       *config.Config
	scheduler *Scheduler
}

func NewCleaner(db *gorm.DB, store events.Store, cfg *config.Config, scheduler *Scheduler) *Cleaner {
	return &Cleaner{db: db, events: store, cfg: cfg, scheduler: scheduler}
}

// VerifyTaskChildrenAndOutputs determines whether the task may be deleted and
// partitions its output models into published and draft, plus the subset of
// draft model ids another task's provenance chain depends on. Pure read-side
// check: no mutation.
func (c *Cleaner) VerifyTaskChildrenAndOutputs(ctx context.Context, t *database.Task, force bool) (published, draft []ModelRef, inUse map[string]struct{}, err error) {
	if !force {
		var publishedChildren int64
		if err := c.db.WithContext(ctx).Model(&database.Task{}).
			Where("parent = ? AND status = ?", t.Id, database.TaskPublished).
			Count(&publishedChildren).Error; err != nil {
			return nil, nil, nil, fmt.Errorf("error counting children of task %s: %w", t.Id, err)
		}
		if publishedChildren > 0 {
			return nil, nil, nil, &TaskCannotBeDeletedError{
				TaskId:   t.Id,
				Reason:   "has children, use force=true",
				Children: int(publishedChildren),
			}
		}
	}

	var owned []ModelRef
	if err := c.db.WithContext(ctx).Model(&database.Model{}).
		Select("id", "ready", "uri").
		Where("task_id = ?", t.Id).
		Find(&owned).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("error loading models of task %s: %w", t.Id, err)
	}

	seen := make(map[string]struct{}, len(owned))
	for _, m := range owned {
		seen[m.Id] = struct{}{}
		if m.Ready {
			published = append(published, m)
		} else {
			draft = append(draft, m)
		}
	}
	if !force && len(published) > 0 {
		return nil, nil, nil, &TaskCannotBeDeletedError{
			TaskId: t.Id,
			Reason: "has output models, use force=true",
			Models: len(published),
		}
	}

	// A model can be referenced as an output without this task being its
	// current owner (e.g. after detachment), so the declared output edges are
	// checked as well.
	var outputIds []string
	if err := c.db.WithContext(ctx).Model(&database.TaskOutputModel{}).
		Where("task_id = ?", t.Id).
		Pluck("model_id", &outputIds).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("error loading output model references of task %s: %w", t.Id, err)
	}
	if len(outputIds) > 0 {
		var referenced []ModelRef
		if err := c.db.WithContext(ctx).Model(&database.Model{}).
			Select("id", "ready", "uri").
			Where("id IN ?", outputIds).
			Find(&referenced).Error; err != nil {
			return nil, nil, nil, fmt.Errorf("error loading output models of task %s: %w", t.Id, err)
		}
		for _, m := range referenced {
			if _, ok := seen[m.Id]; ok {
				continue
			}
			seen[m.Id] = struct{}{}
			if m.Ready {
				if !force {
					return nil, nil, nil, &TaskCannotBeDeletedError{
						TaskId: t.Id,
						Reason: "has output model, use force=true",
						Models: 1,
					}
				}
				published = append(published, m)
			} else {
				draft = append(draft, m)
			}
		}
	}

	inUse = make(map[string]struct{})
	if len(draft) > 0 {
		draftIds := make([]string, len(draft))
		for i, m := range draft {
			draftIds[i] = m.Id
		}

		var usedIds []string
		if err := c.db.WithContext(ctx).Model(&database.TaskInputModel{}).
			Distinct("model_id").
			Where("model_id IN ? AND task_id <> ?", draftIds, t.Id).
			Pluck("model_id", &usedIds).Error; err != nil {
			return nil, nil, nil, fmt.Errorf("error resolving in-use models of task %s: %w", t.Id, err)
		}
		for _, id := range usedIds {
			inUse[id] = struct{}{}
		}
	}

	return published, draft, inUse, nil
}

// CleanupTask validates task deletion and deletes or re-points all of its
// output. Steps after validation are ordered so that a retry from scratch
// with the same arguments is idempotent; there is no partial rollback.
func (c *Cleaner) CleanupTask(ctx context.Context, company, userId string, t *database.Task, p CleanupParams) (CleanupResult, error) {
	published, draft, inUse, err := c.VerifyTaskChildrenAndOutputs(ctx, t, p.Force)
	if err != nil {
		return CleanupResult{}, err
	}

	deleteExternal := p.DeleteExternalArtifacts && c.cfg.AsyncDeleteEnabled

	eventUrls := make(map[string]struct{})
	artifactUrls := make(map[string]struct{})
	modelUrls := make(map[string]struct{})
	if p.ReturnFileUrls || deleteExternal {
		if eventUrls, err = CollectDebugImageUrls(ctx, c.events, t.Company, t.Id); err != nil {
			return CleanupResult{}, err
		}
		plotUrls, err := CollectPlotImageUrls(ctx, c.events, t.Company, t.Id)
		if err != nil {
			return CleanupResult{}, err
		}
		for u := range plotUrls {
			eventUrls[u] = struct{}{}
		}

		if artifactUrls, err = collectArtifactUrls(t); err != nil {
			return CleanupResult{}, err
		}
		if artifactUrls == nil {
			artifactUrls = make(map[string]struct{})
		}

		for _, m := range draft {
			if _, ok := inUse[m.Id]; ok {
				continue
			}
			if m.Uri != "" {
				modelUrls[m.Uri] = struct{}{}
			}
		}
	}

	deletedTaskId := DeletedPrefix + t.Id

	var updatedChildren int64
	if p.UpdateChildren {
		res := c.db.WithContext(ctx).Model(&database.Task{}).
			Where("parent = ?", t.Id).
			Update("parent", deletedTaskId)
		if res.Error != nil {
			return CleanupResult{}, fmt.Errorf("error re-parenting children of task %s: %w", t.Id, res.Error)
		}
		updatedChildren = res.RowsAffected
	}

	var deletedModels, updatedModels int64
	for _, group := range []struct {
		models      []ModelRef
		allowDelete bool
	}{
		{draft, true},
		{published, false},
	} {
		if len(group.models) == 0 {
			continue
		}

		if p.DeleteOutputModels && group.allowDelete {
			var deletableIds []string
			for _, m := range group.models {
				if _, ok := inUse[m.Id]; !ok {
					deletableIds = append(deletableIds, m.Id)
				}
			}

			for _, mId := range deletableIds {
				if p.ReturnFileUrls || deleteExternal {
					urls, err := CollectDebugImageUrls(ctx, c.events, t.Company, mId)
					if err != nil {
						return CleanupResult{}, err
					}
					for u := range urls {
						eventUrls[u] = struct{}{}
					}
					if urls, err = CollectPlotImageUrls(ctx, c.events, t.Company, mId); err != nil {
						return CleanupResult{}, err
					}
					for u := range urls {
						eventUrls[u] = struct{}{}
					}
				}

				err := c.events.DeleteOwnerEvents(ctx, t.Company, mId, events.DeleteOptions{
					AllowLocked: true,
					ModelEvents: true,
					AsyncDelete: c.cfg.AsyncEventsDelete,
				})
				if err != nil {
					if !errors.Is(err, events.ErrInvalidOwnerId) {
						return CleanupResult{}, err
					}
					slog.Info("error deleting events for model", "model_id", mId, "error", err)
				}
			}

			if len(deletableIds) > 0 {
				res := c.db.WithContext(ctx).Where("id IN ?", deletableIds).Delete(&database.Model{})
				if res.Error != nil {
					return CleanupResult{}, fmt.Errorf("error deleting models of task %s: %w", t.Id, res.Error)
				}
				deletedModels += res.RowsAffected
			}

			if len(inUse) > 0 {
				inUseIds := make([]string, 0, len(inUse))
				for id := range inUse {
					inUseIds = append(inUseIds, id)
				}
				if err := c.db.WithContext(ctx).Model(&database.Model{}).
					Where("id IN ?", inUseIds).
					Update("task_id", sql.NullString{}).Error; err != nil {
					return CleanupResult{}, fmt.Errorf("error detaching in-use models of task %s: %w", t.Id, err)
				}
			}
			continue
		}

		// Not eligible for hard delete: the models must still stop pointing at
		// a task id that no longer semantically exists.
		ids := make([]string, len(group.models))
		for i, m := range group.models {
			ids[i] = m.Id
		}
		if p.UpdateChildren {
			res := c.db.WithContext(ctx).Model(&database.Model{}).
				Where("id IN ?", ids).
				Update("task_id", deletedTaskId)
			if res.Error != nil {
				return CleanupResult{}, fmt.Errorf("error re-parenting models of task %s: %w", t.Id, res.Error)
			}
			updatedModels += res.RowsAffected
		} else {
			if err := c.db.WithContext(ctx).Model(&database.Model{}).
				Where("id IN ?", ids).
				Update("task_id", sql.NullString{}).Error; err != nil {
				return CleanupResult{}, fmt.Errorf("error detaching models of task %s: %w", t.Id, err)
			}
		}
	}

	if err := c.events.DeleteOwnerEvents(ctx, t.Company, t.Id, events.DeleteOptions{
		AllowLocked: p.Force,
		AsyncDelete: c.cfg.AsyncEventsDelete,
	}); err != nil {
		return CleanupResult{}, err
	}

	if deleteExternal {
		all := make(map[string]struct{})
		for _, urls := range []map[string]struct{}{eventUrls, modelUrls, artifactUrls} {
			for u := range urls {
				all[u] = struct{}{}
			}
		}

		scheduled, err := c.scheduler.ScheduleForDelete(ctx, company, userId, t.Id, all,
			len(inUse) == 0 && len(published) == 0)
		if err != nil {
			return CleanupResult{}, err
		}
		for _, urls := range []map[string]struct{}{eventUrls, modelUrls, artifactUrls} {
			for u := range scheduled {
				delete(urls, u)
			}
		}
	}

	result := CleanupResult{
		UpdatedChildren: updatedChildren,
		UpdatedModels:   updatedModels,
		DeletedModels:   deletedModels,
	}
	if p.ReturnFileUrls {
		result.Urls = &TaskUrls{
			EventUrls:    setToSlice(eventUrls),
			ModelUrls:    setToSlice(modelUrls),
			ArtifactUrls: setToSlice(artifactUrls),
		}
	}
	return result, nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}
