package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Local copies of the initial schema so later schema changes do not alter what
// this migration creates.

type Project struct {
	Id         string `gorm:"primaryKey"`
	Company    string `gorm:"index;not null"`
	Name       string
	LastUpdate sql.NullTime
}

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

	Artifacts datatypes.JSON `gorm:"type:jsonb"`

	SystemTags   []TaskSystemTag   `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
	InputModels  []TaskInputModel  `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
	OutputModels []TaskOutputModel `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
}

type TaskSystemTag struct {
	TaskId string `gorm:"primaryKey"`
	Tag    string `gorm:"primaryKey"`
}

type TaskInputModel struct {
	TaskId  string `gorm:"primaryKey"`
	ModelId string `gorm:"primaryKey;index"`
	Name    string
}

type TaskOutputModel struct {
	TaskId  string `gorm:"primaryKey"`
	ModelId string `gorm:"primaryKey;index"`
	Name    string
}

type Model struct {
	Id      string `gorm:"primaryKey"`
	Company string `gorm:"index;not null"`
	Name    string

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

type UniqueMetric struct {
	OwnerId string `gorm:"primaryKey"`
	Metric  string `gorm:"primaryKey"`
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Project{}, &Task{}, &TaskSystemTag{}, &TaskInputModel{}, &TaskOutputModel{},
		&Model{}, &ModelTag{}, &UrlToDelete{}, &LastMetric{}, &UniqueMetric{},
	); err != nil {
		return fmt.Errorf("error creating initial schema: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	for _, table := range []any{
		&UniqueMetric{}, &LastMetric{}, &UrlToDelete{}, &ModelTag{}, &Model{},
		&TaskOutputModel{}, &TaskInputModel{}, &TaskSystemTag{}, &Task{}, &Project{},
	} {
		if err := db.Migrator().DropTable(table); err != nil {
			return fmt.Errorf("error dropping table: %w", err)
		}
	}
	return nil
}
