package reclaim_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tracker-backend/internal/database"
	"tracker-backend/internal/reclaim"

	"github.com/google/uuid"
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

func urlRecord(company, url, storageType string) *database.UrlToDelete {
	return &database.UrlToDelete{
		Id:          uuid.NewString(),
		Company:     company,
		Url:         url,
		TaskId:      "task1",
		Created:     time.Now().UTC(),
		StorageType: storageType,
		Type:        database.FileTypeFile,
		Status:      database.DeletionCreated,
	}
}

// fileserver test double honoring the delete_many contract.
func fileserver(t *testing.T, fail map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/delete_many", r.URL.Path)

		var req struct {
			Files []string `json:"files"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		res := struct {
			Deleted []string            `json:"deleted"`
			Errors  map[string][]string `json:"errors"`
		}{Errors: make(map[string][]string)}

		for _, f := range req.Files {
			if reason, ok := fail[f]; ok {
				res.Errors[reason] = append(res.Errors[reason], f)
			} else {
				res.Deleted = append(res.Deleted, f)
			}
		}
		require.NoError(t, json.NewEncoder(w).Encode(res))
	}))
}

func TestFileserverGetPath(t *testing.T) {
	backend := reclaim.NewFileserverBackend("http://files.local", []string{"https://files.local/", "http://files.local/"})

	path, err := backend.GetPath(*urlRecord("c1", "https://files.local/task1/a.png", database.StorageFileserver))
	require.NoError(t, err)
	assert.Equal(t, "task1/a.png", path)

	_, err = backend.GetPath(*urlRecord("c1", "s3://bucket/a.png", database.StorageFileserver))
	require.Error(t, err)
}

func TestSweepDeletesRecords(t *testing.T) {
	server := fileserver(t, nil)
	defer server.Close()

	prefix := "https://files.local/"
	db := createDB(t,
		urlRecord("c1", prefix+"task1/a.png", database.StorageFileserver),
		urlRecord("c1", prefix+"task1/b.png", database.StorageFileserver),
	)
	backend := reclaim.NewFileserverBackend(server.URL, []string{prefix})
	reclaimer := reclaim.NewReclaimer(db, map[string]reclaim.Backend{database.StorageFileserver: backend}, nil)

	n, err := reclaimer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var remaining int64
	require.NoError(t, db.Model(&database.UrlToDelete{}).Count(&remaining).Error)
	assert.Zero(t, remaining)

	// Nothing left to do.
	n, err = reclaimer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepRetryBookkeeping(t *testing.T) {
	prefix := "https://files.local/"
	server := fileserver(t, map[string]string{"task1/a.png": "object locked"})
	defer server.Close()

	db := createDB(t,
		urlRecord("c1", prefix+"task1/a.png", database.StorageFileserver),
		urlRecord("c1", prefix+"task1/b.png", database.StorageFileserver),
	)
	backend := reclaim.NewFileserverBackend(server.URL, []string{prefix})
	reclaimer := reclaim.NewReclaimer(db, map[string]reclaim.Backend{database.StorageFileserver: backend}, nil)
	reclaimer.SetRetryPolicy(3, 0)

	_, err := reclaimer.Sweep(context.Background())
	require.NoError(t, err)

	var records []database.UrlToDelete
	require.NoError(t, db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, prefix+"task1/a.png", records[0].Url)
	assert.Equal(t, 1, records[0].RetryCount)
	assert.Equal(t, database.DeletionRetrying, records[0].Status)
	assert.Equal(t, "object locked", records[0].LastFailureReason)
	assert.True(t, records[0].LastFailureTime.Valid)

	// Two more failing attempts exhaust the budget.
	for i := 0; i < 2; i++ {
		_, err = reclaimer.Sweep(context.Background())
		require.NoError(t, err)
	}

	require.NoError(t, db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].RetryCount)
	assert.Equal(t, database.DeletionFailed, records[0].Status)

	// Failed records are no longer due.
	n, err := reclaimer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepRespectsBackoff(t *testing.T) {
	prefix := "https://files.local/"
	server := fileserver(t, map[string]string{"task1/a.png": "object locked"})
	defer server.Close()

	db := createDB(t, urlRecord("c1", prefix+"task1/a.png", database.StorageFileserver))
	backend := reclaim.NewFileserverBackend(server.URL, []string{prefix})
	reclaimer := reclaim.NewReclaimer(db, map[string]reclaim.Backend{database.StorageFileserver: backend}, nil)
	reclaimer.SetRetryPolicy(3, time.Hour)

	_, err := reclaimer.Sweep(context.Background())
	require.NoError(t, err)

	// The failure was just stamped, so the record is inside its backoff
	// window and not picked up again.
	n, err := reclaimer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepUnknownStorageMarkedFailed(t *testing.T) {
	db := createDB(t, urlRecord("c1", "azure://container/blob.bin", database.StorageAzure))
	reclaimer := reclaim.NewReclaimer(db, map[string]reclaim.Backend{}, nil)

	n, err := reclaimer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var record database.UrlToDelete
	require.NoError(t, db.First(&record).Error)
	assert.Equal(t, database.DeletionFailed, record.Status)
	assert.Contains(t, record.LastFailureReason, "no client configured")
}

func TestSweepUnparsablePathMarkedFailed(t *testing.T) {
	server := fileserver(t, nil)
	defer server.Close()

	db := createDB(t, urlRecord("c1", "https://elsewhere.local/a.png", database.StorageFileserver))
	backend := reclaim.NewFileserverBackend(server.URL, []string{"https://files.local/"})
	reclaimer := reclaim.NewReclaimer(db, map[string]reclaim.Backend{database.StorageFileserver: backend}, nil)

	n, err := reclaimer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var record database.UrlToDelete
	require.NoError(t, db.First(&record).Error)
	assert.Equal(t, database.DeletionFailed, record.Status)
}

func TestSweepGroupsByCompanyAndStorage(t *testing.T) {
	prefix := "https://files.local/"
	server := fileserver(t, nil)
	defer server.Close()

	db := createDB(t,
		urlRecord("c1", prefix+"task1/a.png", database.StorageFileserver),
		urlRecord("c2", prefix+"task9/z.png", database.StorageFileserver),
	)
	backend := reclaim.NewFileserverBackend(server.URL, []string{prefix})
	reclaimer := reclaim.NewReclaimer(db, map[string]reclaim.Backend{database.StorageFileserver: backend}, nil)

	// One sweep handles one (company, storage type) batch.
	n, err := reclaimer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = reclaimer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var remaining int64
	require.NoError(t, db.Model(&database.UrlToDelete{}).Count(&remaining).Error)
	assert.Zero(t, remaining)
}

func TestS3BackendGetPath(t *testing.T) {
	backend, err := reclaim.NewS3Backend(&reclaim.S3Config{
		S3EndpointURL:     "http://localhost:9000",
		S3AccessKeyID:     "test",
		S3SecretAccessKey: "test",
		S3Region:          "us-east-1",
	})
	require.NoError(t, err)

	path, err := backend.GetPath(*urlRecord("c1", "s3://bucket/dir/key.bin", database.StorageS3))
	require.NoError(t, err)
	assert.Equal(t, "bucket/dir/key.bin", path)

	_, err = backend.GetPath(*urlRecord("c1", "s3://bucket", database.StorageS3))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no object key"))
}
