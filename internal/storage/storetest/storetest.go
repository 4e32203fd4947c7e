// Package storetest is a compliance suite for storage.DocStore adapters.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tallyledger/internal/storage"
)

// Run exercises the behaviour every adapter must share. newStore must return
// an empty store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.DocStore) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("AddAndGet", func(t *testing.T) { testAddAndGet(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("QueryFilters", func(t *testing.T) { testQueryFilters(t, newStore(t)) })
	t.Run("QueryOrdering", func(t *testing.T) { testQueryOrdering(t, newStore(t)) })
	t.Run("QueryStartAfter", func(t *testing.T) { testQueryStartAfter(t, newStore(t)) })
	t.Run("PrefixRange", func(t *testing.T) { testPrefixRange(t, newStore(t)) })
	t.Run("CollectionsIsolated", func(t *testing.T) { testCollectionsIsolated(t, newStore(t)) })
	t.Run("BatchAtomic", func(t *testing.T) { testBatchAtomic(t, newStore(t)) })
	t.Run("BatchPreconditions", func(t *testing.T) { testBatchPreconditions(t, newStore(t)) })
	t.Run("ConcurrentConditionalUpdates", func(t *testing.T) { testConcurrentConditionalUpdates(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func testGetMissing(t *testing.T, s storage.DocStore) {
	_, err := s.Get(context.Background(), "persons", "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testAddAndGet(t *testing.T, s storage.DocStore) {
	ctx := context.Background()

	id, err := s.Add(ctx, "persons", storage.Fields{
		"name":    "Anu",
		"entries": []string{"2", "3"},
		"count":   2,
		"active":  true,
		"meta":    map[string]any{"source": "voice"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := s.Get(ctx, "persons", id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, "Anu", doc.String("name"))
	assert.Equal(t, []string{"2", "3"}, doc.Strings("entries"))
	assert.Equal(t, []any{"2", "3"}, doc.Fields["entries"])
	assert.Equal(t, float64(2), doc.Fields["count"])
	assert.Equal(t, true, doc.Fields["active"])
	assert.Equal(t, map[string]any{"source": "voice"}, doc.Fields["meta"])
}

func testUpdate(t *testing.T, s storage.DocStore) {
	ctx := context.Background()

	id, err := s.Add(ctx, "persons", storage.Fields{"name": "Anu", "unit": "kg"})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, "persons", id, storage.Fields{"unit": "litre", "item": "milk"}))

	doc, err := s.Get(ctx, "persons", id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	assert.Equal(t, "Anu", doc.String("name"))
	assert.Equal(t, "litre", doc.String("unit"))
	assert.Equal(t, "milk", doc.String("item"))

	err = s.Update(ctx, "persons", "missing", storage.Fields{"unit": "kg"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.Update(ctx, "persons", id, storage.Fields{"bad-field": "x"})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func testQueryFilters(t *testing.T, s storage.DocStore) {
	ctx := context.Background()
	seed(t, s, "persons", map[string]storage.Fields{
		"a": {"owner_id": "u1", "date": "2024-01-01"},
		"b": {"owner_id": "u1", "date": "2024-01-02"},
		"c": {"owner_id": "u2", "date": "2024-01-03"},
		"d": {"owner_id": "u1", "date": "2024-01-04"},
		"e": {"date": "2024-01-05"},
	})

	tests := []struct {
		name    string
		filters []storage.Filter
		want    []string
	}{
		{name: "equal", filters: []storage.Filter{storage.Where("owner_id", storage.OpEqual, "u1")}, want: []string{"a", "b", "d"}},
		{name: "less", filters: []storage.Filter{storage.Where("date", storage.OpLess, "2024-01-03")}, want: []string{"a", "b"}},
		{name: "less equal", filters: []storage.Filter{storage.Where("date", storage.OpLessEqual, "2024-01-03")}, want: []string{"a", "b", "c"}},
		{name: "greater", filters: []storage.Filter{storage.Where("date", storage.OpGreater, "2024-01-03")}, want: []string{"d", "e"}},
		{name: "greater equal", filters: []storage.Filter{storage.Where("date", storage.OpGreaterEqual, "2024-01-04")}, want: []string{"d", "e"}},
		{
			name: "combined",
			filters: []storage.Filter{
				storage.Where("owner_id", storage.OpEqual, "u1"),
				storage.Where("date", storage.OpGreater, "2024-01-01"),
			},
			want: []string{"b", "d"},
		},
		{name: "missing field never matches", filters: []storage.Filter{storage.Where("owner_id", storage.OpGreaterEqual, "")}, want: []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Query(ctx, "persons", storage.Query{Filters: tt.filters})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(docs))
		})
	}

	docs, err := s.Query(ctx, "nowhere", storage.Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = s.Query(ctx, "persons", storage.Query{OrderBy: "name; DROP TABLE documents"})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func testQueryOrdering(t *testing.T, s storage.DocStore) {
	ctx := context.Background()
	seed(t, s, "persons", map[string]storage.Fields{
		"p1": {"name": "alpha"},
		"p2": {"name": "Zed"},
		"p3": {"name": "Émile"},
		"p4": {"name": "alpha"},
		"p5": {"item": "no name"},
	})

	docs, err := s.Query(ctx, "persons", storage.Query{OrderBy: "name"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1", "p4", "p3"}, ids(docs), "byte-wise order with id tiebreak")

	docs, err = s.Query(ctx, "persons", storage.Query{OrderBy: "name", Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p4", "p1", "p2"}, ids(docs))

	docs, err = s.Query(ctx, "persons", storage.Query{OrderBy: "name", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1"}, ids(docs))

	docs, err = s.Query(ctx, "persons", storage.Query{Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"p5", "p4", "p3", "p2", "p1"}, ids(docs))
}

func testQueryStartAfter(t *testing.T, s storage.DocStore) {
	ctx := context.Background()
	col := "persons/p1/details"
	seed(t, s, col, map[string]storage.Fields{
		"d1": {"selected_date": "2024-01-01"},
		"d2": {"selected_date": "2024-01-02"},
		"d3": {"selected_date": "2024-01-03"},
		"d4": {"selected_date": "2024-01-04"},
		"d5": {"selected_date": "2024-01-05"},
	})

	var pages [][]string
	cursor := ""
	for {
		docs, err := s.Query(ctx, col, storage.Query{OrderBy: "selected_date", Descending: true, Limit: 2, StartAfter: cursor})
		require.NoError(t, err)
		if len(docs) == 0 {
			break
		}
		pages = append(pages, ids(docs))
		cursor = docs[len(docs)-1].ID
	}
	assert.Equal(t, [][]string{{"d5", "d4"}, {"d3", "d2"}, {"d1"}}, pages)

	docs, err := s.Query(ctx, col, storage.Query{OrderBy: "selected_date", StartAfter: "d3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d4", "d5"}, ids(docs))

	_, err = s.Query(ctx, col, storage.Query{OrderBy: "selected_date", StartAfter: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testPrefixRange(t *testing.T, s storage.DocStore) {
	ctx := context.Background()
	seed(t, s, "persons", map[string]storage.Fields{
		"p1": {"name": "Anu"},
		"p2": {"name": "Ana"},
		"p3": {"name": "An"},
		"p4": {"name": "Bob"},
		"p5": {"name": "Anoï"},
		"p6": {"name": "Am"},
	})

	docs, err := s.Query(ctx, "persons", storage.Query{
		Filters: []storage.Filter{
			storage.Where("name", storage.OpGreaterEqual, "An"),
			storage.Where("name", storage.OpLess, "An"+string(utf8.MaxRune)),
		},
		OrderBy: "name",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p2", "p5", "p1"}, ids(docs))
}

func testCollectionsIsolated(t *testing.T, s storage.DocStore) {
	ctx := context.Background()
	seed(t, s, "persons/a/details", map[string]storage.Fields{"d1": {"n": "1"}})
	seed(t, s, "persons/b/details", map[string]storage.Fields{"d1": {"n": "2"}})

	doc, err := s.Get(ctx, "persons/a/details", "d1")
	require.NoError(t, err)
	assert.Equal(t, "1", doc.String("n"))

	docs, err := s.Query(ctx, "persons/b/details", storage.Query{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2", docs[0].String("n"))

	_, err = s.Get(ctx, "persons", "d1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testBatchAtomic(t *testing.T, s storage.DocStore) {
	ctx := context.Background()
	seed(t, s, "persons", map[string]storage.Fields{"p1": {"total": "1"}})

	b := s.Batch()
	b.Create("persons/p1/details", "d1", storage.Fields{"total": "1"})
	b.Update("persons", "p1", storage.Fields{"total": "2"}, storage.IfVersion(7))
	err := b.Commit(ctx)
	require.ErrorIs(t, err, storage.ErrConflict)

	_, err = s.Get(ctx, "persons/p1/details", "d1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "create must be rolled back")
	doc, err := s.Get(ctx, "persons", "p1")
	require.NoError(t, err)
	assert.Equal(t, "1", doc.String("total"))
	assert.Equal(t, int64(1), doc.Version)

	b = s.Batch()
	b.Create("persons", "p1", storage.Fields{"total": "9"})
	assert.ErrorIs(t, b.Commit(ctx), storage.ErrConflict, "create of an existing id")

	b = s.Batch()
	b.Update("persons", "p1", storage.Fields{"total": "2"}, storage.IfVersion(1))
	b.Create("persons/p1/details", "d1", storage.Fields{"total": "1"})
	b.Update("persons/p1/details", "d1", storage.Fields{"total": "3"}, storage.IfVersion(1))
	require.NoError(t, b.Commit(ctx))

	doc, err = s.Get(ctx, "persons/p1/details", "d1")
	require.NoError(t, err)
	assert.Equal(t, "3", doc.String("total"))
	assert.Equal(t, int64(2), doc.Version)

	require.NoError(t, s.Batch().Commit(ctx), "empty batch")
}

func testBatchPreconditions(t *testing.T, s storage.DocStore) {
	ctx := context.Background()
	seed(t, s, "persons", map[string]storage.Fields{"p1": {"name": "Anu"}})
	seed(t, s, "persons/p1/details", map[string]storage.Fields{"d1": {"n": "1"}, "d2": {"n": "2"}})

	b := s.Batch()
	b.Delete("persons", "p1", storage.IfVersion(2))
	assert.ErrorIs(t, b.Commit(ctx), storage.ErrConflict)

	b = s.Batch()
	b.Delete("persons", "ghost", storage.IfVersion(1))
	assert.ErrorIs(t, b.Commit(ctx), storage.ErrConflict, "conditional delete of a missing document")

	b = s.Batch()
	b.Delete("persons", "ghost", storage.Precondition{})
	require.NoError(t, b.Commit(ctx), "unconditional delete of a missing document")

	b = s.Batch()
	b.Delete("persons/p1/details", "d1", storage.Precondition{})
	b.Delete("persons/p1/details", "d2", storage.Precondition{})
	b.Delete("persons", "p1", storage.IfVersion(1))
	require.NoError(t, b.Commit(ctx))

	_, err := s.Get(ctx, "persons", "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	docs, err := s.Query(ctx, "persons/p1/details", storage.Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// testConcurrentConditionalUpdates increments a counter from many goroutines
// using read, conditional write and retry. No increment may be lost.
func testConcurrentConditionalUpdates(t *testing.T, s storage.DocStore) {
	ctx := context.Background()
	seed(t, s, "counters", map[string]storage.Fields{"c": {"n": float64(0)}})

	const workers = 8
	const perWorker = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := increment(ctx, s); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := s.Get(ctx, "counters", "c")
	require.NoError(t, err)
	assert.Equal(t, float64(workers*perWorker), doc.Fields["n"])
	assert.Equal(t, int64(workers*perWorker+1), doc.Version)
}

func increment(ctx context.Context, s storage.DocStore) error {
	for attempt := 0; attempt < 1000; attempt++ {
		doc, err := s.Get(ctx, "counters", "c")
		if err != nil {
			return err
		}
		n, _ := doc.Fields["n"].(float64)
		b := s.Batch()
		b.Update("counters", "c", storage.Fields{"n": n + 1}, storage.IfVersion(doc.Version))
		err = b.Commit(ctx)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("increment: too many conflicts")
}

func seed(t *testing.T, s storage.DocStore, collection string, docs map[string]storage.Fields) {
	t.Helper()
	b := s.Batch()
	for id, fields := range docs {
		b.Create(collection, id, fields)
	}
	require.NoError(t, b.Commit(context.Background()))
}

func ids(docs []*storage.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
