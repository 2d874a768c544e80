package database

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

const (
	TaskCreated    string = "created"
	TaskQueued     string = "queued"
	TaskInProgress string = "in_progress"
	TaskStopped    string = "stopped"
	TaskClosed     string = "closed"
	TaskFailed     string = "failed"
	TaskPublishing string = "publishing"
	TaskPublished  string = "published"
	TaskCompleted  string = "completed"
)

// SystemTagDevelopment is pulled from a task's system tags when it enters the queue.
const SystemTagDevelopment = "development"

const (
	ArtifactModeInput  string = "input"
	ArtifactModeOutput string = "output"
)

type Project struct {
	Id         string `gorm:"primaryKey"`
	Company    string `gorm:"index;not null"`
	Name       string
	LastUpdate sql.NullTime
}

// Task ids are strings rather than uuids: a deleted task's children are
// re-parented to a marker id built by prefixing the original id.
type Task struct {
	Id      string `gorm:"primaryKey"`
	Company string `gorm:"index;not null"`
	Name    string

	ProjectId sql.NullString `gorm:"index"`
	Parent    sql.NullString `gorm:"index"`

	Status        string `gorm:"size:20;not null"`
	StatusReason  string
	StatusMessage string
	StatusChanged sql.NullTime

	CreationTime  time.Time
	LastUpdate    sql.NullTime
	LastChange    sql.NullTime
	LastChangedBy sql.NullString

	// Execution artifact table, keyed by artifact name: {"name": {"uri": "...", "mode": "output"}}
	Artifacts datatypes.JSON `gorm:"type:jsonb"`

	SystemTags   []TaskSystemTag   `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
	InputModels  []TaskInputModel  `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
	OutputModels []TaskOutputModel `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
}

type TaskSystemTag struct {
	TaskId string `gorm:"primaryKey"`
	Tag    string `gorm:"primaryKey"`
}

// TaskInputModel is a provenance edge: the task consumes the model. A draft
// model referenced here by any task is "in use" and must survive the deletion
// of its owning task.
type TaskInputModel struct {
	TaskId  string `gorm:"primaryKey"`
	ModelId string `gorm:"primaryKey;index"`
	Name    string
}

// TaskOutputModel records a model the task produced. The edge can outlive the
// model's own task pointer (e.g. after the model was detached), so cleanup
// checks both directions.
type TaskOutputModel struct {
	TaskId  string `gorm:"primaryKey"`
	ModelId string `gorm:"primaryKey;index"`
	Name    string
}

type Model struct {
	Id      string `gorm:"primaryKey"`
	Company string `gorm:"index;not null"`
	Name    string

	// Owning task. Nullable: cleanup either unsets it or points it at the
	// deleted-marker id, never leaves it dangling at a removed task.
	TaskId sql.NullString `gorm:"index"`

	Ready bool `gorm:"default:false"`
	Uri   string

	Labels datatypes.JSON `gorm:"type:jsonb"`

	CreationTime time.Time

	Tags []ModelTag `gorm:"foreignKey:ModelId;constraint:OnDelete:CASCADE"`
}

type ModelTag struct {
	ModelId string `gorm:"primaryKey"`
	Tag     string `gorm:"primaryKey"`
}

const (
	StorageS3         string = "s3"
	StorageAzure      string = "azure"
	StorageGS         string = "gs"
	StorageFileserver string = "fileserver"
	StorageUnknown    string = "unknown"
)

const (
	FileTypeFile   string = "file"
	FileTypeFolder string = "folder"
)

const (
	DeletionCreated  string = "created"
	DeletionRetrying string = "retrying"
	DeletionFailed   string = "failed"
)

// UrlToDelete is a durable deletion intent consumed by the reclamation
// worker. (company, url) is unique: concurrent schedules for the same url
// converge on one retryable record.
type UrlToDelete struct {
	Id      string `gorm:"primaryKey"`
	Company string `gorm:"uniqueIndex:idx_urls_company_url;not null"`
	UserId  string
	Url     string `gorm:"uniqueIndex:idx_urls_company_url;not null"`
	TaskId  string `gorm:"index"`
	Created time.Time

	StorageType string `gorm:"size:20;index;default:unknown"`
	Type        string `gorm:"size:10;default:file"`

	RetryCount        int `gorm:"default:0;index"`
	LastFailureTime   sql.NullTime
	LastFailureReason string
	Status            string `gorm:"size:20;index;default:created"`
}

// LastMetric is the per-variant rollup row for a task (or model, when scalar
// events are reported against a model). Min/max and their iteration fields are
// only ever written together inside one conditional update.
type LastMetric struct {
	OwnerId    string `gorm:"primaryKey"`
	MetricKey  string `gorm:"primaryKey"`
	VariantKey string `gorm:"primaryKey"`

	Metric  string
	Variant string
	Value   float64

	MinValue          sql.NullFloat64
	MinValueIteration sql.NullInt64
	MaxValue          sql.NullFloat64
	MaxValueIteration sql.NullInt64
}

// UniqueMetric is one entry of an owner's unique-metrics set. Rows are only
// ever added (duplicate-safe), never rewritten wholesale.
type UniqueMetric struct {
	OwnerId string `gorm:"primaryKey"`
	Metric  string `gorm:"primaryKey"`
}
