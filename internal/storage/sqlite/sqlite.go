// Package sqlite provides a SQLite-backed implementation of the storage.DocStore interface.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/tallyledger/internal/storage"
	"github.com/mmynk/tallyledger/internal/storage/sqldoc"
)

// Ensure Store implements storage.DocStore
var _ storage.DocStore = (*Store)(nil)

// Store implements storage.DocStore using SQLite.
type Store struct {
	*sqldoc.Store
}

// New creates a new Store with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*Store, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer: batches read then write inside one transaction.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{Store: sqldoc.New(db, dialect{})}, nil
}

type dialect struct{}

func (dialect) Bind(int) string { return "?" }

func (dialect) Field(name string) string {
	return fmt.Sprintf("json_extract(data, '$.%s')", name)
}

func (dialect) JSON(bind string) string { return bind }

func (dialect) Data() string { return "data" }
