// Package migrations holds the schema for principals, profiles and
// approval requests as embedded goose migrations.
package migrations

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// DefaultDialect is the goose dialect used when none is given
const DefaultDialect = "sqlite3"

// goose keeps its base FS and dialect in package state
var gooseMu sync.Mutex

// Up executes all pending migrations.
func Up(db *sql.DB, dialect string) error {
	return run(db, dialect, func(db *sql.DB) error {
		if err := goose.Up(db, "sql"); err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		return nil
	})
}

// Down rolls back the most recent migration.
func Down(db *sql.DB, dialect string) error {
	return run(db, dialect, func(db *sql.DB) error {
		if err := goose.Down(db, "sql"); err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
		return nil
	})
}

// Version returns the current schema version.
func Version(db *sql.DB, dialect string) (int64, error) {
	var version int64
	err := run(db, dialect, func(db *sql.DB) error {
		v, err := goose.GetDBVersion(db)
		if err != nil {
			return fmt.Errorf("goose version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

func run(db *sql.DB, dialect string, fn func(*sql.DB) error) error {
	if db == nil {
		return fmt.Errorf("migrations: database is required")
	}
	if dialect == "" {
		dialect = DefaultDialect
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(EmbedMigrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	return fn(db)
}
