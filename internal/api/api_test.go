package api_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	backend "tracker-backend/internal/api"
	"tracker-backend/internal/config"
	"tracker-backend/internal/database"
	"tracker-backend/internal/events"
	"tracker-backend/internal/task"
	"tracker-backend/pkg/api"

	"github.com/go-chi/chi/v5"
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

func createRouter(db *gorm.DB) chi.Router {
	cfg := config.Default()
	cfg.AsyncDeleteEnabled = true
	scheduler := task.NewScheduler(db, cfg, nil)
	cleaner := task.NewCleaner(db, events.NewMemStore(), cfg, scheduler)
	metrics := task.NewMetricsUpdater(db, cfg.MaxLastMetrics)

	service := backend.NewBackendService(db, cfg, cleaner, metrics)
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router
}

func TestGetTask(t *testing.T) {
	db := createDB(t,
		&database.Task{Id: "task1", Company: "c1", Name: "experiment", Status: database.TaskCreated},
		&database.TaskSystemTag{TaskId: "task1", Tag: database.SystemTagDevelopment},
	)
	router := createRouter(db)

	req := httptest.NewRequest(http.MethodGet, "/tasks/task1?company=c1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var response api.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "task1", response.Id)
	assert.Equal(t, "experiment", response.Name)
	assert.Equal(t, database.TaskCreated, response.Status)
	assert.Equal(t, []string{database.SystemTagDevelopment}, response.SystemTags)
}

func TestGetTaskNotFound(t *testing.T) {
	db := createDB(t, &database.Task{Id: "task1", Company: "c1", Status: database.TaskCreated})
	router := createRouter(db)

	req := httptest.NewRequest(http.MethodGet, "/tasks/missing?company=c1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Another company's task is indistinguishable from a missing one.
	req = httptest.NewRequest(http.MethodGet, "/tasks/task1?company=c2", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChangeTaskStatus(t *testing.T) {
	db := createDB(t, &database.Task{Id: "task1", Company: "c1", Status: database.TaskCreated})
	router := createRouter(db)

	body, err := json.Marshal(api.ChangeTaskStatusRequest{
		Company: "c1", User: "u1", Status: database.TaskInProgress, StatusReason: "worker picked up",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks/task1/status", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var response api.ChangeTaskStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, int64(1), response.Updated)

	var updated database.Task
	require.NoError(t, db.First(&updated, "id = ?", "task1").Error)
	assert.Equal(t, database.TaskInProgress, updated.Status)
	assert.Equal(t, "worker picked up", updated.StatusReason)
	assert.Equal(t, "u1", updated.LastChangedBy.String)
}

func TestChangeTaskStatusInvalidTransition(t *testing.T) {
	db := createDB(t, &database.Task{Id: "task1", Company: "c1", Status: database.TaskPublished})
	router := createRouter(db)

	body, err := json.Marshal(api.ChangeTaskStatusRequest{Company: "c1", Status: database.TaskQueued})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks/task1/status", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTask(t *testing.T) {
	db := createDB(t,
		&database.Task{Id: "task1", Company: "c1", Status: database.TaskCreated},
		&database.Task{Id: "child", Company: "c1", Status: database.TaskCreated,
			Parent: sql.NullString{String: "task1", Valid: true}},
		&database.Model{Id: "m1", Company: "c1", Uri: "s3://b/m1.bin",
			TaskId: sql.NullString{String: "task1", Valid: true}},
	)
	router := createRouter(db)

	req := httptest.NewRequest(http.MethodDelete, "/tasks/task1?company=c1&user=u1&return_file_urls=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var response api.DeleteTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Deleted)
	assert.Equal(t, int64(1), response.UpdatedChildren)
	assert.Equal(t, int64(1), response.DeletedModels)

	var count int64
	require.NoError(t, db.Model(&database.Task{}).Where("id = ?", "task1").Count(&count).Error)
	assert.Zero(t, count)

	var child database.Task
	require.NoError(t, db.First(&child, "id = ?", "child").Error)
	assert.Equal(t, task.DeletedPrefix+"task1", child.Parent.String)

	var intents []string
	require.NoError(t, db.Model(&database.UrlToDelete{}).Pluck("url", &intents).Error)
	assert.Equal(t, []string{"s3://b/m1.bin"}, intents)
}

func TestDeleteTaskBlocked(t *testing.T) {
	db := createDB(t,
		&database.Task{Id: "task1", Company: "c1", Status: database.TaskCreated},
		&database.Model{Id: "m1", Company: "c1", Ready: true, Uri: "s3://b/m1.bin",
			TaskId: sql.NullString{String: "task1", Valid: true}},
	)
	router := createRouter(db)

	req := httptest.NewRequest(http.MethodDelete, "/tasks/task1?company=c1&user=u1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "force")

	var count int64
	require.NoError(t, db.Model(&database.Task{}).Where("id = ?", "task1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeleteTaskWrongStatus(t *testing.T) {
	db := createDB(t, &database.Task{Id: "task1", Company: "c1", Status: database.TaskInProgress})
	router := createRouter(db)

	req := httptest.NewRequest(http.MethodDelete, "/tasks/task1?company=c1&user=u1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// force extends the allowed statuses to in_progress
	req = httptest.NewRequest(http.MethodDelete, "/tasks/task1?company=c1&user=u1&force=true", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteTaskNotFound(t *testing.T) {
	db := createDB(t)
	router := createRouter(db)

	req := httptest.NewRequest(http.MethodDelete, "/tasks/missing?company=c1&user=u1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportScalars(t *testing.T) {
	db := createDB(t, &database.Task{Id: "task1", Company: "c1", Status: database.TaskInProgress})
	router := createRouter(db)

	min, max := 5.0, 10.0
	body, err := json.Marshal(api.ReportScalarsRequest{
		Company: "c1",
		User:    "u1",
		Events: []api.ScalarEvent{
			{Metric: "loss", Variant: "total", Value: 7,
				MinValue: &min, MinValueIteration: 2, MaxValue: &max, MaxValueIteration: 1},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks/task1/events/scalars", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var row database.LastMetric
	require.NoError(t, db.First(&row, "owner_id = ?", "task1").Error)
	assert.Equal(t, float64(7), row.Value)
	assert.Equal(t, float64(5), row.MinValue.Float64)
	assert.Equal(t, float64(10), row.MaxValue.Float64)

	var updated database.Task
	require.NoError(t, db.First(&updated, "id = ?", "task1").Error)
	assert.True(t, updated.LastUpdate.Valid)
}

func TestReportScalarsEmptyBatch(t *testing.T) {
	db := createDB(t, &database.Task{Id: "task1", Company: "c1", Status: database.TaskInProgress})
	router := createRouter(db)

	req := httptest.NewRequest(http.MethodPost, "/tasks/task1/events/scalars",
		bytes.NewReader([]byte(`{"Company":"c1","Events":[]}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
