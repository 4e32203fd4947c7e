// Package storage provides abstractions for persistent document storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a document, or a query cursor, does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a batch precondition fails or a created
	// document already exists. Nothing in the batch is applied.
	ErrConflict = errors.New("document version conflict")

	// ErrInvalidQuery is returned for malformed field names or operators.
	ErrInvalidQuery = errors.New("invalid query")
)

// Fields holds a document's data. Values are JSON-compatible: string, float64,
// bool, nil, []any and map[string]any. Adapters return exactly these types.
type Fields map[string]any

// Document is a stored record.
type Document struct {
	ID string
	// Version starts at 1 and increments on every write.
	Version int64
	Fields  Fields
}

// String returns the string field named key, or "" when absent.
func (d *Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Strings returns the string list field named key. Non-string elements are skipped.
func (d *Document) Strings(key string) []string {
	raw, _ := d.Fields[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Op is a comparison operator in a query filter.
type Op string

const (
	OpEqual        Op = "=="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Filter compares a string field byte-wise against a value. Documents that do
// not have the field never match.
type Filter struct {
	Field string
	Op    Op
	Value string
}

// Where is shorthand for a Filter literal.
func Where(field string, op Op, value string) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents in one collection.
//
// Results are ordered by OrderBy (documents lacking that field are excluded)
// with the document id as tiebreak, or by id alone when OrderBy is empty.
// Descending reverses both. StartAfter names a document in the collection;
// results begin strictly after its position. Limit <= 0 means no limit.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
	StartAfter string
}

var fieldName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidField reports whether name is usable as a field in queries and updates.
func ValidField(name string) bool { return fieldName.MatchString(name) }

// Validate checks field names and operators.
func (q Query) Validate() error {
	if q.OrderBy != "" && !ValidField(q.OrderBy) {
		return fmt.Errorf("%w: order by field %q", ErrInvalidQuery, q.OrderBy)
	}
	for _, f := range q.Filters {
		if !ValidField(f.Field) {
			return fmt.Errorf("%w: filter field %q", ErrInvalidQuery, f.Field)
		}
		switch f.Op {
		case OpEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		default:
			return fmt.Errorf("%w: operator %q", ErrInvalidQuery, f.Op)
		}
	}
	return nil
}

// Precondition guards a batched write. The zero value means unconditional.
type Precondition struct {
	Version int64
}

// IfVersion requires the document to be at exactly version v.
func IfVersion(v int64) Precondition { return Precondition{Version: v} }

// Holds reports whether a document at version current satisfies p.
func (p Precondition) Holds(current int64) bool {
	return p.Version == 0 || p.Version == current
}

// Batch collects writes that are committed all-or-nothing.
type Batch interface {
	// Create inserts a new document; it fails with ErrConflict if id exists.
	Create(collection, id string, fields Fields)
	// Update merges fields into an existing document; ErrNotFound if missing.
	Update(collection, id string, fields Fields, pre Precondition)
	// Delete removes a document. Deleting a missing document is a no-op
	// unless a version precondition is given.
	Delete(collection, id string, pre Precondition)
	// Commit applies every write atomically, in order.
	Commit(ctx context.Context) error
}

// DocStore is the document store capability used by the ledger repository.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL,
// MongoDB, in-memory) without changing the repository.
type DocStore interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Update(ctx context.Context, collection, id string, fields Fields) error
	Query(ctx context.Context, collection string, q Query) ([]*Document, error)
	Batch() Batch
	Ping(ctx context.Context) error
	Close() error
}

// NewID returns a fresh document id.
func NewID() string { return uuid.New().String() }
