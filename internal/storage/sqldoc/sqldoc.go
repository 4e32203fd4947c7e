// Package sqldoc implements storage.DocStore on top of a single SQL table of
// JSON documents. The sqlite and postgres packages supply the dialect.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mmynk/tallyledger/internal/storage"
)

// Dialect covers the differences between SQL engines.
type Dialect interface {
	// Bind returns the placeholder for the n-th argument, counting from 1.
	Bind(n int) string
	// Field returns an expression yielding the text value of a top-level
	// document field, compared byte-wise.
	Field(name string) string
	// JSON wraps a bound text argument so it is stored as the data column type.
	JSON(bind string) string
	// Data is the select expression that yields the data column as text.
	Data() string
}

// Ensure Store implements storage.DocStore
var _ storage.DocStore = (*Store)(nil)

// Store is a document store over the documents table:
//
//	documents(collection, id, version, data) PRIMARY KEY (collection, id)
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database whose schema is already in place.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle, for migrations and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Document, error) {
	q := fmt.Sprintf("SELECT id, version, %s FROM documents WHERE collection = %s AND id = %s",
		s.dialect.Data(), s.dialect.Bind(1), s.dialect.Bind(2))
	doc, err := scanDocument(s.db.QueryRowContext(ctx, q, collection, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *Store) Add(ctx context.Context, collection string, fields storage.Fields) (string, error) {
	return storage.AddWith(ctx, s.Batch(), collection, fields)
}

func (s *Store) Update(ctx context.Context, collection, id string, fields storage.Fields) error {
	return storage.UpdateWith(ctx, s.Batch(), collection, id, fields)
}

func (s *Store) Query(ctx context.Context, collection string, q storage.Query) ([]*storage.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	d := s.dialect
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return d.Bind(len(args))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, version, %s FROM documents WHERE collection = %s", d.Data(), bind(collection))
	for _, f := range q.Filters {
		fmt.Fprintf(&sb, " AND %s %s %s", d.Field(f.Field), sqlOp(f.Op), bind(f.Value))
	}

	key := "id"
	if q.OrderBy != "" {
		key = d.Field(q.OrderBy)
		fmt.Fprintf(&sb, " AND %s IS NOT NULL", key)
	}

	if q.StartAfter != "" {
		cursor, err := s.Get(ctx, collection, q.StartAfter)
		if err != nil {
			return nil, fmt.Errorf("start after %q: %w", q.StartAfter, err)
		}
		cmp := ">"
		if q.Descending {
			cmp = "<"
		}
		if q.OrderBy == "" {
			fmt.Fprintf(&sb, " AND id %s %s", cmp, bind(cursor.ID))
		} else {
			value := cursor.String(q.OrderBy)
			fmt.Fprintf(&sb, " AND (%s %s %s OR (%s = %s AND id %s %s))",
				key, cmp, bind(value), key, bind(value), cmp, bind(cursor.ID))
		}
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	if q.OrderBy != "" {
		fmt.Fprintf(&sb, " ORDER BY %s %s, id %s", key, dir, dir)
	} else {
		fmt.Fprintf(&sb, " ORDER BY id %s", dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []*storage.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func (s *Store) Batch() storage.Batch { return &batch{store: s} }

type batch struct {
	storage.Mutations
	store *Store
}

// Commit applies the writes in one transaction. Updates and deletes are
// conditioned on the version read inside the transaction, so a concurrent
// writer that commits first turns this commit into ErrConflict.
func (b *batch) Commit(ctx context.Context) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if len(b.List()) == 0 {
		return nil
	}

	s := b.store
	d := s.dialect
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	selectQ := fmt.Sprintf("SELECT id, version, %s FROM documents WHERE collection = %s AND id = %s",
		d.Data(), d.Bind(1), d.Bind(2))
	insertQ := fmt.Sprintf("INSERT INTO documents (collection, id, version, data) VALUES (%s, %s, 1, %s)",
		d.Bind(1), d.Bind(2), d.JSON(d.Bind(3)))
	updateQ := fmt.Sprintf("UPDATE documents SET version = version + 1, data = %s WHERE collection = %s AND id = %s AND version = %s",
		d.JSON(d.Bind(1)), d.Bind(2), d.Bind(3), d.Bind(4))
	deleteQ := fmt.Sprintf("DELETE FROM documents WHERE collection = %s AND id = %s AND version = %s",
		d.Bind(1), d.Bind(2), d.Bind(3))

	for _, m := range b.List() {
		current, err := scanDocument(tx.QueryRowContext(ctx, selectQ, m.Collection, m.ID))
		if errors.Is(err, sql.ErrNoRows) {
			current = nil
		} else if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}

		switch m.Kind {
		case storage.MutationCreate:
			if current != nil {
				return fmt.Errorf("create %s/%s: %w", m.Collection, m.ID, storage.ErrConflict)
			}
			data, err := encode(m.Fields)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, insertQ, m.Collection, m.ID, data); err != nil {
				return fmt.Errorf("failed to insert document: %w", err)
			}

		case storage.MutationUpdate:
			if current == nil {
				return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, storage.ErrNotFound)
			}
			if !m.Pre.Holds(current.Version) {
				return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, storage.ErrConflict)
			}
			data, err := encode(storage.Merge(current.Fields, m.Fields))
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, updateQ, data, m.Collection, m.ID, current.Version)
			if err != nil {
				return fmt.Errorf("failed to update document: %w", err)
			}
			if err := expectOne(res, m); err != nil {
				return err
			}

		case storage.MutationDelete:
			if current == nil {
				if m.Pre.Version != 0 {
					return fmt.Errorf("delete %s/%s: %w", m.Collection, m.ID, storage.ErrConflict)
				}
				continue
			}
			if !m.Pre.Holds(current.Version) {
				return fmt.Errorf("delete %s/%s: %w", m.Collection, m.ID, storage.ErrConflict)
			}
			res, err := tx.ExecContext(ctx, deleteQ, m.Collection, m.ID, current.Version)
			if err != nil {
				return fmt.Errorf("failed to delete document: %w", err)
			}
			if err := expectOne(res, m); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func expectOne(res sql.Result, m storage.Mutation) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("write %s/%s: %w", m.Collection, m.ID, storage.ErrConflict)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*storage.Document, error) {
	var (
		doc  storage.Document
		data string
	)
	if err := row.Scan(&doc.ID, &doc.Version, &data); err != nil {
		return nil, err
	}
	doc.Fields = storage.Fields{}
	if err := json.Unmarshal([]byte(data), &doc.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
	}
	return &doc, nil
}

func encode(fields storage.Fields) (string, error) {
	if fields == nil {
		fields = storage.Fields{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(data), nil
}

func sqlOp(op storage.Op) string {
	if op == storage.OpEqual {
		return "="
	}
	return string(op)
}
