package task

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tracker-backend/internal/database"

	"gorm.io/gorm"
)

// DeletedPrefix marks the synthetic id children and models are re-parented to
// when their task is deleted. Never a real task id, so lineage pointers stay
// unambiguous.
const DeletedPrefix = "__DELETED__"

// statusTransitions is the directed adjacency of allowed status changes.
// published is terminal.
var statusTransitions = map[string][]string{
	database.TaskCreated:    {database.TaskQueued, database.TaskInProgress},
	database.TaskQueued:     {database.TaskCreated, database.TaskInProgress, database.TaskStopped},
	database.TaskInProgress: {database.TaskStopped, database.TaskFailed, database.TaskCreated, database.TaskCompleted},
	database.TaskStopped: {
		database.TaskClosed, database.TaskCreated, database.TaskFailed, database.TaskQueued,
		database.TaskInProgress, database.TaskPublished, database.TaskPublishing, database.TaskCompleted,
	},
	database.TaskClosed: {
		database.TaskCreated, database.TaskFailed, database.TaskPublished,
		database.TaskPublishing, database.TaskStopped,
	},
	database.TaskFailed:     {database.TaskCreated, database.TaskStopped, database.TaskPublished},
	database.TaskPublishing: {database.TaskPublished},
	database.TaskPublished:  {},
	database.TaskCompleted:  {database.TaskPublished, database.TaskInProgress, database.TaskCreated},
}

func validateStatusChange(currentStatus, newStatus string) error {
	allowed, ok := statusTransitions[currentStatus]
	if !ok {
		return fmt.Errorf("current status %s not supported by state machine", currentStatus)
	}

	for _, status := range allowed {
		if status == newStatus {
			return nil
		}
	}
	return &InvalidTaskStatusError{
		Message:       "invalid status change",
		CurrentStatus: currentStatus,
		NewStatus:     newStatus,
	}
}

// ChangeStatusRequest validates and atomically commits one status transition.
type ChangeStatusRequest struct {
	Task          *database.Task
	NewStatus     string
	StatusReason  string
	StatusMessage string

	// Force permits any transition, bypassing the table.
	Force bool

	// AllowSameState permits a transition into the current status.
	AllowSameState bool

	// CurrentStatusOverride replaces the loaded task status as the expected
	// prior status of the conditional write.
	CurrentStatusOverride string

	UserId string
}

// ChangeStatusResult reports the fields written by a successful transition.
type ChangeStatusResult struct {
	Updated int64
	Fields  map[string]any
}

func (r *ChangeStatusRequest) validateTransition(currentStatus string) error {
	if r.Force {
		return nil
	}
	if r.NewStatus != currentStatus {
		return validateStatusChange(currentStatus, r.NewStatus)
	}
	if !r.AllowSameState {
		return &InvalidTaskStatusError{
			Message:       "task already in requested status",
			CurrentStatus: currentStatus,
			NewStatus:     r.NewStatus,
		}
	}
	return nil
}

// Execute commits the transition with a conditional write keyed on the
// expected prior status. Zero matched rows means another actor won the race
// and yields FailedChangingTaskStatusError, never an overwrite.
func (r *ChangeStatusRequest) Execute(ctx context.Context, db *gorm.DB) (ChangeStatusResult, error) {
	currentStatus := r.CurrentStatusOverride
	if currentStatus == "" {
		currentStatus = r.Task.Status
	}

	if err := r.validateTransition(currentStatus); err != nil {
		return ChangeStatusResult{}, err
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"status":          r.NewStatus,
		"status_reason":   r.StatusReason,
		"status_message":  r.StatusMessage,
		"status_changed":  now,
		"last_update":     now,
		"last_change":     now,
		"last_changed_by": sql.NullString{String: r.UserId, Valid: r.UserId != ""},
	}

	res := db.WithContext(ctx).Model(&database.Task{}).
		Where("id = ? AND status = ?", r.Task.Id, currentStatus).
		Updates(fields)
	if res.Error != nil {
		return ChangeStatusResult{}, fmt.Errorf("error changing status of task %s: %w", r.Task.Id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ChangeStatusResult{}, &FailedChangingTaskStatusError{
			TaskId:        r.Task.Id,
			CurrentStatus: currentStatus,
			NewStatus:     r.NewStatus,
		}
	}

	if r.NewStatus == database.TaskQueued {
		if err := db.WithContext(ctx).
			Delete(&database.TaskSystemTag{TaskId: r.Task.Id, Tag: database.SystemTagDevelopment}).Error; err != nil {
			return ChangeStatusResult{}, fmt.Errorf("error clearing development tag for task %s: %w", r.Task.Id, err)
		}
	}

	if r.Task.ProjectId.Valid {
		database.UpdateProjectTime(ctx, db, r.Task.ProjectId.String)
	}

	return ChangeStatusResult{Updated: res.RowsAffected, Fields: fields}, nil
}

// GetTaskForUpdate loads a minimal projection of the task and returns it only
// if its status permits a write: created, or additionally in_progress when
// force is set.
func GetTaskForUpdate(ctx context.Context, db *gorm.DB, company, taskId string, allowAllStatuses, force bool) (*database.Task, error) {
	var t database.Task
	err := db.WithContext(ctx).
		Select("id", "company", "status", "project_id", "parent", "artifacts").
		Where("id = ? AND company = ?", taskId, company).
		First(&t).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &InvalidTaskIdError{TaskId: taskId}
		}
		return nil, fmt.Errorf("error loading task %s: %w", taskId, err)
	}

	if allowAllStatuses {
		return &t, nil
	}

	allowed := t.Status == database.TaskCreated
	if force {
		allowed = allowed || t.Status == database.TaskInProgress
	}
	if !allowed {
		return nil, &InvalidTaskStatusError{
			Message:       "expected task status " + database.TaskCreated,
			CurrentStatus: t.Status,
		}
	}
	return &t, nil
}
