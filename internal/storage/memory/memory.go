// Package memory provides an in-memory implementation of storage.DocStore,
// used by tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mmynk/tallyledger/internal/storage"
)

// Ensure Store implements storage.DocStore
var _ storage.DocStore = (*Store)(nil)

type record struct {
	version int64
	fields  storage.Fields
}

// Store keeps documents in nested maps guarded by a single mutex.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]*record
}

// New creates an empty Store.
func New() *Store {
	return &Store{collections: make(map[string]map[string]*record)}
}

func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.collections[collection][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return toDocument(id, rec), nil
}

func (s *Store) Add(ctx context.Context, collection string, fields storage.Fields) (string, error) {
	return storage.AddWith(ctx, s.Batch(), collection, fields)
}

func (s *Store) Update(ctx context.Context, collection, id string, fields storage.Fields) error {
	return storage.UpdateWith(ctx, s.Batch(), collection, id, fields)
}

func (s *Store) Query(ctx context.Context, collection string, q storage.Query) ([]*storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[collection]
	if q.StartAfter != "" {
		if _, ok := docs[q.StartAfter]; !ok {
			return nil, fmt.Errorf("start after %q: %w", q.StartAfter, storage.ErrNotFound)
		}
	}

	type row struct {
		id  string
		key string
		rec *record
	}
	var rows []row
	for id, rec := range docs {
		key := id
		if q.OrderBy != "" {
			v, ok := rec.fields[q.OrderBy].(string)
			if !ok {
				continue
			}
			key = v
		}
		if !matches(rec.fields, q.Filters) {
			continue
		}
		rows = append(rows, row{id: id, key: key, rec: rec})
	}

	less := func(a, b row) bool {
		if c := strings.Compare(a.key, b.key); c != 0 {
			return c < 0
		}
		return a.id < b.id
	}
	sort.Slice(rows, func(i, j int) bool {
		if q.Descending {
			return less(rows[j], rows[i])
		}
		return less(rows[i], rows[j])
	})

	if q.StartAfter != "" {
		cursor := row{id: q.StartAfter, key: q.StartAfter}
		if q.OrderBy != "" {
			cursor.key, _ = docs[q.StartAfter].fields[q.OrderBy].(string)
		}
		i := sort.Search(len(rows), func(i int) bool {
			if q.Descending {
				return less(rows[i], cursor)
			}
			return less(cursor, rows[i])
		})
		rows = rows[i:]
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]*storage.Document, len(rows))
	for i, r := range rows {
		out[i] = toDocument(r.id, r.rec)
	}
	return out, nil
}

func (s *Store) Batch() storage.Batch { return &batch{store: s} }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

type batch struct {
	storage.Mutations
	store *Store
}

// Commit stages every write against a copy of the touched records and only
// publishes them once all writes succeeded.
func (b *batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct{ collection, id string }
	staged := make(map[key]*record)
	lookup := func(k key) *record {
		if rec, ok := staged[k]; ok {
			return rec
		}
		return s.collections[k.collection][k.id]
	}

	for _, m := range b.List() {
		k := key{m.Collection, m.ID}
		current := lookup(k)
		switch m.Kind {
		case storage.MutationCreate:
			if current != nil {
				return fmt.Errorf("create %s/%s: %w", m.Collection, m.ID, storage.ErrConflict)
			}
			fields, err := storage.Normalize(m.Fields)
			if err != nil {
				return err
			}
			staged[k] = &record{version: 1, fields: fields}
		case storage.MutationUpdate:
			if current == nil {
				return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, storage.ErrNotFound)
			}
			if !m.Pre.Holds(current.version) {
				return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, storage.ErrConflict)
			}
			patch, err := storage.Normalize(m.Fields)
			if err != nil {
				return err
			}
			staged[k] = &record{version: current.version + 1, fields: storage.Merge(current.fields, patch)}
		case storage.MutationDelete:
			if current == nil {
				if m.Pre.Version != 0 {
					return fmt.Errorf("delete %s/%s: %w", m.Collection, m.ID, storage.ErrConflict)
				}
				continue
			}
			if !m.Pre.Holds(current.version) {
				return fmt.Errorf("delete %s/%s: %w", m.Collection, m.ID, storage.ErrConflict)
			}
			staged[k] = nil
		}
	}

	for k, rec := range staged {
		if rec == nil {
			delete(s.collections[k.collection], k.id)
			continue
		}
		if s.collections[k.collection] == nil {
			s.collections[k.collection] = make(map[string]*record)
		}
		s.collections[k.collection][k.id] = rec
	}
	return nil
}

func matches(fields storage.Fields, filters []storage.Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field].(string)
		if !ok {
			return false
		}
		c := strings.Compare(v, f.Value)
		var hit bool
		switch f.Op {
		case storage.OpEqual:
			hit = c == 0
		case storage.OpLess:
			hit = c < 0
		case storage.OpLessEqual:
			hit = c <= 0
		case storage.OpGreater:
			hit = c > 0
		case storage.OpGreaterEqual:
			hit = c >= 0
		}
		if !hit {
			return false
		}
	}
	return true
}

// toDocument deep-copies rec so callers cannot mutate stored state.
func toDocument(id string, rec *record) *storage.Document {
	fields, err := storage.Normalize(rec.fields)
	if err != nil {
		// Stored fields were normalized on write, so this cannot fail.
		panic(err)
	}
	return &storage.Document{ID: id, Version: rec.version, Fields: fields}
}
