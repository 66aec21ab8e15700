package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// The catalog schema ships embedded in the binary so a fresh deployment can
// migrate to head on startup, before the import API accepts its first job.
//
//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the catalog schema up to date.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("applying catalog migrations: %w", err)
	}
	return nil
}
