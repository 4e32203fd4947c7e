// Package postgres provides a PostgreSQL-backed implementation of
// storage.DocStore. Documents are kept as JSONB; text comparisons use the
// "C" collation so ordering is byte-wise like the other adapters.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mmynk/tallyledger/internal/storage"
	"github.com/mmynk/tallyledger/internal/storage/sqldoc"
)

// Ensure Store implements storage.DocStore
var _ storage.DocStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT COLLATE "C" NOT NULL,
    id TEXT COLLATE "C" NOT NULL,
    version BIGINT NOT NULL,
    data JSONB NOT NULL,
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents (collection, (data->>'owner_id') COLLATE "C");
CREATE INDEX IF NOT EXISTS idx_documents_name ON documents (collection, (data->>'name') COLLATE "C");
CREATE INDEX IF NOT EXISTS idx_documents_selected_date ON documents (collection, (data->>'selected_date') COLLATE "C");
`

// Store implements storage.DocStore using PostgreSQL.
type Store struct {
	*sqldoc.Store
}

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New connects to dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{Store: sqldoc.New(db, dialect{})}, nil
}

type dialect struct{}

func (dialect) Bind(n int) string { return fmt.Sprintf("$%d", n) }

func (dialect) Field(name string) string {
	return fmt.Sprintf(`(data->>'%s') COLLATE "C"`, name)
}

func (dialect) JSON(bind string) string { return bind + "::jsonb" }

func (dialect) Data() string { return "data::text" }
