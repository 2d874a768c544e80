package task_test

import (
	"context"
	"database/sql"
	"testing"

	"tracker-backend/internal/database"
	"tracker-backend/internal/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

var allStatuses = []string{
	database.TaskCreated, database.TaskQueued, database.TaskInProgress,
	database.TaskStopped, database.TaskClosed, database.TaskFailed,
	database.TaskPublishing, database.TaskPublished, database.TaskCompleted,
}

var allowedTransitions = map[string][]string{
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

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestStatusTransitionTable(t *testing.T) {
	for _, current := range allStatuses {
		for _, next := range allStatuses {
			if current == next {
				continue
			}

			taskId := "task-" + current + "-" + next
			db := createDB(t, &database.Task{Id: taskId, Company: "c1", Status: current})

			req := task.ChangeStatusRequest{
				Task:      &database.Task{Id: taskId, Status: current},
				NewStatus: next,
			}
			result, err := req.Execute(context.Background(), db)

			if contains(allowedTransitions[current], next) {
				require.NoError(t, err, "expected %s -> %s to be allowed", current, next)
				assert.Equal(t, int64(1), result.Updated)

				var updated database.Task
				require.NoError(t, db.First(&updated, "id = ?", taskId).Error)
				assert.Equal(t, next, updated.Status)
			} else {
				var invalid *task.InvalidTaskStatusError
				require.ErrorAs(t, err, &invalid, "expected %s -> %s to be rejected", current, next)

				var unchanged database.Task
				require.NoError(t, db.First(&unchanged, "id = ?", taskId).Error)
				assert.Equal(t, current, unchanged.Status)
			}
		}
	}
}

func TestStatusSameStateTransition(t *testing.T) {
	db := createDB(t, &database.Task{Id: "task1", Company: "c1", Status: database.TaskStopped})

	req := task.ChangeStatusRequest{
		Task:      &database.Task{Id: "task1", Status: database.TaskStopped},
		NewStatus: database.TaskStopped,
	}
	_, err := req.Execute(context.Background(), db)
	var invalid *task.InvalidTaskStatusError
	require.ErrorAs(t, err, &invalid)

	req.AllowSameState = true
	result, err := req.Execute(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Updated)
}

func TestStatusForceBypassesTable(t *testing.T) {
	db := createDB(t, &database.Task{Id: "task1", Company: "c1", Status: database.TaskPublished})

	req := task.ChangeStatusRequest{
		Task:      &database.Task{Id: "task1", Status: database.TaskPublished},
		NewStatus: database.TaskCreated,
		Force:     true,
	}
	result, err := req.Execute(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Updated)

	var updated database.Task
	require.NoError(t, db.First(&updated, "id = ?", "task1").Error)
	assert.Equal(t, database.TaskCreated, updated.Status)
}

func TestStatusConcurrentChangeConflict(t *testing.T) {
	db := createDB(t, &database.Task{Id: "task1", Company: "c1", Status: database.TaskInProgress})

	// Two racing transitions expecting the same prior status: the first wins,
	// the second must observe the conflict instead of overwriting.
	first := task.ChangeStatusRequest{
		Task:                  &database.Task{Id: "task1", Status: database.TaskInProgress},
		NewStatus:             database.TaskCompleted,
		CurrentStatusOverride: database.TaskInProgress,
	}
	_, err := first.Execute(context.Background(), db)
	require.NoError(t, err)

	second := task.ChangeStatusRequest{
		Task:                  &database.Task{Id: "task1", Status: database.TaskInProgress},
		NewStatus:             database.TaskStopped,
		CurrentStatusOverride: database.TaskInProgress,
	}
	_, err = second.Execute(context.Background(), db)
	var conflict *task.FailedChangingTaskStatusError
	require.ErrorAs(t, err, &conflict)

	var final database.Task
	require.NoError(t, db.First(&final, "id = ?", "task1").Error)
	assert.Equal(t, database.TaskCompleted, final.Status)
}

func TestStatusQueuedRemovesDevelopmentTag(t *testing.T) {
	db := createDB(t,
		&database.Task{Id: "task1", Company: "c1", Status: database.TaskCreated},
		&database.TaskSystemTag{TaskId: "task1", Tag: database.SystemTagDevelopment},
		&database.TaskSystemTag{TaskId: "task1", Tag: "archived"},
	)

	req := task.ChangeStatusRequest{
		Task:      &database.Task{Id: "task1", Status: database.TaskCreated},
		NewStatus: database.TaskQueued,
		UserId:    "user1",
	}
	_, err := req.Execute(context.Background(), db)
	require.NoError(t, err)

	var tags []database.TaskSystemTag
	require.NoError(t, db.Find(&tags, "task_id = ?", "task1").Error)
	assert.Equal(t, []database.TaskSystemTag{{TaskId: "task1", Tag: "archived"}}, tags)
}

func TestStatusChangeTouchesProject(t *testing.T) {
	db := createDB(t,
		&database.Project{Id: "proj1", Company: "c1", Name: "proj"},
		&database.Task{
			Id: "task1", Company: "c1", Status: database.TaskCreated,
			ProjectId: sql.NullString{String: "proj1", Valid: true},
		},
	)

	req := task.ChangeStatusRequest{
		Task: &database.Task{
			Id: "task1", Status: database.TaskCreated,
			ProjectId: sql.NullString{String: "proj1", Valid: true},
		},
		NewStatus: database.TaskInProgress,
	}
	_, err := req.Execute(context.Background(), db)
	require.NoError(t, err)

	var proj database.Project
	require.NoError(t, db.First(&proj, "id = ?", "proj1").Error)
	assert.True(t, proj.LastUpdate.Valid)
}

func TestGetTaskForUpdate(t *testing.T) {
	db := createDB(t,
		&database.Task{Id: "created", Company: "c1", Status: database.TaskCreated},
		&database.Task{Id: "running", Company: "c1", Status: database.TaskInProgress},
		&database.Task{Id: "done", Company: "c1", Status: database.TaskCompleted},
	)
	ctx := context.Background()

	loaded, err := task.GetTaskForUpdate(ctx, db, "c1", "created", false, false)
	require.NoError(t, err)
	assert.Equal(t, database.TaskCreated, loaded.Status)

	_, err = task.GetTaskForUpdate(ctx, db, "c1", "running", false, false)
	var invalidStatus *task.InvalidTaskStatusError
	require.ErrorAs(t, err, &invalidStatus)

	_, err = task.GetTaskForUpdate(ctx, db, "c1", "running", false, true)
	require.NoError(t, err)

	_, err = task.GetTaskForUpdate(ctx, db, "c1", "done", false, true)
	require.ErrorAs(t, err, &invalidStatus)

	_, err = task.GetTaskForUpdate(ctx, db, "c1", "done", true, false)
	require.NoError(t, err)

	var invalidId *task.InvalidTaskIdError
	_, err = task.GetTaskForUpdate(ctx, db, "c1", "missing", true, false)
	require.ErrorAs(t, err, &invalidId)

	// Tasks of another company are invisible to the caller.
	_, err = task.GetTaskForUpdate(ctx, db, "c2", "created", true, false)
	require.ErrorAs(t, err, &invalidId)
}
