package api

import (
	"errors"
	"log/slog"
	"net/http"

	"tracker-backend/internal/config"
	"tracker-backend/internal/database"
	"tracker-backend/internal/task"
	"tracker-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type BackendService struct {
	db      *gorm.DB
	cfg     *config.Config
	cleaner *task.Cleaner
	metrics *task.MetricsUpdater
}

func NewBackendService(db *gorm.DB, cfg *config.Config, cleaner *task.Cleaner, metrics *task.MetricsUpdater) *BackendService {
	return &BackendService{db: db, cfg: cfg, cleaner: cleaner, metrics: metrics}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/{task_id}", RestHandler(s.GetTask))
		r.Post("/{task_id}/status", RestHandler(s.ChangeTaskStatus))
		r.Delete("/{task_id}", RestHandler(s.DeleteTask))
		r.Post("/{task_id}/events/scalars", RestHandler(s.ReportScalars))
	})
}

// taskError maps the task package's typed errors onto http status codes.
func taskError(err error) error {
	var invalidId *task.InvalidTaskIdError
	if errors.As(err, &invalidId) {
		return CodedError(http.StatusNotFound, err)
	}
	var invalidStatus *task.InvalidTaskStatusError
	if errors.As(err, &invalidStatus) {
		return CodedError(http.StatusBadRequest, err)
	}
	var cannotDelete *task.TaskCannotBeDeletedError
	if errors.As(err, &cannotDelete) {
		return CodedError(http.StatusBadRequest, err)
	}
	var conflict *task.FailedChangingTaskStatusError
	if errors.As(err, &conflict) {
		return CodedError(http.StatusConflict, err)
	}
	slog.Error("task endpoint error", "error", err)
	return CodedErrorf(http.StatusInternalServerError, "internal error")
}

type getTaskParams struct {
	Company string `schema:"company"`
}

func (s *BackendService) GetTask(r *http.Request) (any, error) {
	taskId, err := URLParamString(r, "task_id")
	if err != nil {
		return nil, err
	}
	params, err := ParseRequestQueryParams[getTaskParams](r)
	if err != nil {
		return nil, err
	}

	var t database.Task
	err = s.db.WithContext(r.Context()).
		Preload("SystemTags").
		Where("id = ? AND company = ?", taskId, params.Company).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task not found: %s", taskId)
		}
		slog.Error("error getting task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving task record")
	}

	return convertTask(&t), nil
}

func (s *BackendService) ChangeTaskStatus(r *http.Request) (any, error) {
	taskId, err := URLParamString(r, "task_id")
	if err != nil {
		return nil, err
	}
	req, err := ParseRequest[api.ChangeTaskStatusRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Status == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing required field: status")
	}

	ctx := r.Context()

	t, err := task.GetTaskForUpdate(ctx, s.db, req.Company, taskId, true, false)
	if err != nil {
		return nil, taskError(err)
	}

	change := task.ChangeStatusRequest{
		Task:           t,
		NewStatus:      req.Status,
		StatusReason:   req.StatusReason,
		StatusMessage:  req.StatusMessage,
		Force:          req.Force,
		AllowSameState: req.AllowSameState,
		UserId:         req.User,
	}
	result, err := change.Execute(ctx, s.db)
	if err != nil {
		return nil, taskError(err)
	}

	return api.ChangeTaskStatusResponse{Updated: result.Updated, Fields: result.Fields}, nil
}

func (s *BackendService) DeleteTask(r *http.Request) (any, error) {
	taskId, err := URLParamString(r, "task_id")
	if err != nil {
		return nil, err
	}
	params, err := ParseRequestQueryParams[api.DeleteTaskParams](r)
	if err != nil {
		return nil, err
	}

	cleanupParams := task.CleanupParams{
		Force:                   params.Force,
		ReturnFileUrls:          params.ReturnFileUrls,
		UpdateChildren:          true,
		DeleteOutputModels:      true,
		DeleteExternalArtifacts: true,
	}
	if params.UpdateChildren != nil {
		cleanupParams.UpdateChildren = *params.UpdateChildren
	}
	if params.DeleteOutputModels != nil {
		cleanupParams.DeleteOutputModels = *params.DeleteOutputModels
	}
	if params.DeleteExternalArtifacts != nil {
		cleanupParams.DeleteExternalArtifacts = *params.DeleteExternalArtifacts
	}

	ctx := r.Context()

	t, err := task.GetTaskForUpdate(ctx, s.db, params.Company, taskId, false, params.Force)
	if err != nil {
		return nil, taskError(err)
	}

	result, err := s.cleaner.CleanupTask(ctx, params.Company, params.User, t, cleanupParams)
	if err != nil {
		return nil, taskError(err)
	}

	if err := s.db.WithContext(ctx).Select("SystemTags", "InputModels", "OutputModels").
		Delete(&database.Task{Id: t.Id}).Error; err != nil {
		slog.Error("error deleting task record", "task_id", t.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting task record")
	}

	if t.ProjectId.Valid {
		database.UpdateProjectTime(ctx, s.db, t.ProjectId.String)
	}

	return api.DeleteTaskResponse{
		Deleted:         true,
		UpdatedChildren: result.UpdatedChildren,
		UpdatedModels:   result.UpdatedModels,
		DeletedModels:   result.DeletedModels,
		Urls: func() *api.TaskUrls {
			if result.Urls == nil {
				return nil
			}
			return &api.TaskUrls{
				ModelUrls:    result.Urls.ModelUrls,
				EventUrls:    result.Urls.EventUrls,
				ArtifactUrls: result.Urls.ArtifactUrls,
			}
		}(),
	}, nil
}

func (s *BackendService) ReportScalars(r *http.Request) (any, error) {
	taskId, err := URLParamString(r, "task_id")
	if err != nil {
		return nil, err
	}
	req, err := ParseRequest[api.ReportScalarsRequest](r)
	if err != nil {
		return nil, err
	}
	if len(req.Events) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "no events provided")
	}

	ctx := r.Context()

	if !req.ModelEvents {
		if _, err := task.GetTaskForUpdate(ctx, s.db, req.Company, taskId, true, false); err != nil {
			return nil, taskError(err)
		}
	}

	lastEvents := make(map[string]map[string]task.ScalarEvent)
	for _, ev := range req.Events {
		variants, ok := lastEvents[ev.Metric]
		if !ok {
			variants = make(map[string]task.ScalarEvent)
			lastEvents[ev.Metric] = variants
		}
		variants[ev.Variant] = task.ScalarEvent{
			Metric:       ev.Metric,
			Variant:      ev.Variant,
			Value:        ev.Value,
			MinValue:     ev.MinValue,
			MinValueIter: ev.MinValueIteration,
			MaxValue:     ev.MaxValue,
			MaxValueIter: ev.MaxValueIteration,
		}
	}

	if err := s.metrics.UpdateLastMetrics(ctx, taskId, lastEvents, req.ModelEvents); err != nil {
		return nil, taskError(err)
	}

	if !req.ModelEvents {
		if _, err := database.UpdateTask(ctx, s.db, taskId, req.User, map[string]any{}, true); err != nil {
			slog.Error("error stamping task update time", "task_id", taskId, "error", err)
		}
	}

	return nil, nil
}
