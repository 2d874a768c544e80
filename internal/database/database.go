package database

import (
	"fmt"
	"log"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens a gorm connection and runs pending migrations. The url
// selects the driver: postgres urls for deployments, sqlite paths (or
// "file::memory:") for local runs. TranslateError is required so that unique
// constraint violations surface as gorm.ErrDuplicatedKey, which the deletion
// scheduler relies on.
func NewDatabase(databaseURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		dialector = postgres.Open(databaseURL)
	} else {
		dialector = sqlite.Open(databaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	log.Println("Database connection established, running migrations...")

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("error running database migrations: %w", err)
	}

	return db, nil
}
