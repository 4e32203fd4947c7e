package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tallyledger/internal/calculator"
	"github.com/mmynk/tallyledger/internal/models"
	"github.com/mmynk/tallyledger/internal/storage"
	"github.com/mmynk/tallyledger/internal/storage/memory"
)

var fixedNow = time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	return New(memory.New(), WithClock(func() time.Time { return fixedNow }))
}

func entry(name, date string, values ...float64) models.Entry {
	d, err := models.ParseDate(date)
	if err != nil {
		panic(err)
	}
	qs := make([]models.Quantity, len(values))
	for i, v := range values {
		qs[i] = models.Q(v)
	}
	return models.Entry{Name: name, SelectedDate: d, Quantities: qs, Item: "milk", Unit: "litre"}
}

func entryStrings(d *models.Detail) []string {
	out := make([]string, len(d.QuantityEntries))
	for i, q := range d.QuantityEntries {
		out[i] = q.String()
	}
	return out
}

func allDetails(t *testing.T, r *Repository, personID, ownerID string) []*models.Detail {
	t.Helper()
	details, err := r.ListDetails(context.Background(), personID, ownerID, MaxPageSize, "")
	require.NoError(t, err)
	return details
}

func TestScenarioAnu(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	id, err := r.CreatePerson(ctx, "u1", entry("Anu", "2024-01-01", 2, 3))
	require.NoError(t, err)

	person, err := r.GetPerson(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, "5", person.TotalQuantity.String())
	assert.Equal(t, "Anu", person.Name)
	assert.Equal(t, "u1", person.OwnerID)
	assert.True(t, fixedNow.Equal(person.CreatedAt))

	total, err := r.AppendEntry(ctx, id, "u1", entry("Anu", "2024-01-01", 1))
	require.NoError(t, err)
	assert.Equal(t, "6", total.String())

	details := allDetails(t, r, id, "u1")
	require.Len(t, details, 1)
	assert.Equal(t, []string{"2", "3", "1"}, entryStrings(details[0]))
	assert.Equal(t, "6", details[0].TotalQuantity.String())

	total, err = r.AppendEntry(ctx, id, "u1", entry("Anu", "2024-01-02", 4))
	require.NoError(t, err)
	assert.Equal(t, "10", total.String())

	details = allDetails(t, r, id, "u1")
	require.Len(t, details, 2)
	assert.Equal(t, "2024-01-02", details[0].SelectedDate.String())
	assert.Equal(t, "2024-01-01", details[1].SelectedDate.String())

	person, err = r.GetPerson(ctx, id, "u1")
	require.NoError(t, err)
	require.NoError(t, calculator.Reconcile(person, details))
}

func TestCreatePerson(t *testing.T) {
	ctx := context.Background()

	t.Run("total equals sum of entries", func(t *testing.T) {
		r := newTestRepo(t)
		id, err := r.CreatePerson(ctx, "u1", entry("Ravi", "2024-01-01", 0.1, 0.2))
		require.NoError(t, err)

		person, err := r.GetPerson(ctx, id, "u1")
		require.NoError(t, err)
		assert.Equal(t, "0.3", person.TotalQuantity.String())

		details := allDetails(t, r, id, "u1")
		require.Len(t, details, 1)
		assert.Equal(t, id, details[0].PersonID)
		assert.Equal(t, "milk", details[0].Item)
		assert.Equal(t, "2024-01-05", details[0].CreatedDate, "label defaults to today")
	})

	t.Run("caller labels are stored verbatim", func(t *testing.T) {
		r := newTestRepo(t)
		e := entry("Ravi", "2024-01-01", 1)
		e.CreatedDate = "Mon Jan 01 2024"
		e.ModifiedDate = "Mon Jan 01 2024"
		id, err := r.CreatePerson(ctx, "u1", e)
		require.NoError(t, err)

		details := allDetails(t, r, id, "u1")
		require.Len(t, details, 1)
		assert.Equal(t, "Mon Jan 01 2024", details[0].CreatedDate)
	})

	tests := []struct {
		name  string
		entry models.Entry
	}{
		{name: "empty entries", entry: entry("Ravi", "2024-01-01")},
		{name: "missing name", entry: entry("", "2024-01-01", 1)},
		{name: "missing date", entry: models.Entry{Name: "Ravi", Quantities: []models.Quantity{models.Q(1)}}},
		{name: "exponent out of range", entry: entry("Ravi", "2024-01-01", 1e300)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestRepo(t).CreatePerson(ctx, "u1", tt.entry)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestAppendEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("sequential appends accumulate", func(t *testing.T) {
		r := newTestRepo(t)
		id, err := r.CreatePerson(ctx, "u1", entry("Anu", "2024-01-01", 1))
		require.NoError(t, err)

		want := models.Q(1)
		for i, v := range []float64{2.5, -1, 0.25, 7} {
			date := fmt.Sprintf("2024-01-%02d", i%2+1)
			total, err := r.AppendEntry(ctx, id, "u1", entry("Anu", date, v))
			require.NoError(t, err)
			want = want.Add(models.Q(v))
			assert.True(t, want.Equal(total), "got %s want %s", total, want)
		}
	})

	t.Run("merge keeps item and unit unless overridden", func(t *testing.T) {
		r := newTestRepo(t)
		id, err := r.CreatePerson(ctx, "u1", entry("Anu", "2024-01-01", 1))
		require.NoError(t, err)

		e := entry("Anu", "2024-01-01", 1)
		e.Item, e.Unit = "", ""
		_, err = r.AppendEntry(ctx, id, "u1", e)
		require.NoError(t, err)
		details := allDetails(t, r, id, "u1")
		assert.Equal(t, "milk", details[0].Item)
		assert.Equal(t, "litre", details[0].Unit)

		e.Unit = "ml"
		e.ModifiedDate = "later"
		_, err = r.AppendEntry(ctx, id, "u1", e)
		require.NoError(t, err)
		details = allDetails(t, r, id, "u1")
		assert.Equal(t, "milk", details[0].Item)
		assert.Equal(t, "ml", details[0].Unit)
		assert.Equal(t, "later", details[0].ModifiedDate)
	})

	t.Run("timestamps in other zones land on the UTC day", func(t *testing.T) {
		r := newTestRepo(t)
		id, err := r.CreatePerson(ctx, "u1", entry("Anu", "2024-01-02", 1))
		require.NoError(t, err)

		_, err = r.AppendEntry(ctx, id, "u1", entry("Anu", "2024-01-01T20:00:00-05:00", 2))
		require.NoError(t, err)
		details := allDetails(t, r, id, "u1")
		require.Len(t, details, 1)
		assert.Equal(t, []string{"1", "2"}, entryStrings(details[0]))
	})

	t.Run("another owner's person is not found and unchanged", func(t *testing.T) {
		r := newTestRepo(t)
		id, err := r.CreatePerson(ctx, "u1", entry("Anu", "2024-01-01", 5))
		require.NoError(t, err)

		_, err = r.AppendEntry(ctx, id, "u2", entry("Anu", "2024-01-01", 1))
		assert.ErrorIs(t, err, models.ErrNotFound)

		person, err := r.GetPerson(ctx, id, "u1")
		require.NoError(t, err)
		assert.Equal(t, "5", person.TotalQuantity.String())
		assert.Len(t, allDetails(t, r, id, "u1"), 1)
	})

	t.Run("missing person", func(t *testing.T) {
		_, err := newTestRepo(t).AppendEntry(ctx, "nope", "u1", entry("Anu", "2024-01-01", 1))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("empty entries", func(t *testing.T) {
		_, err := newTestRepo(t).AppendEntry(ctx, "nope", "u1", entry("Anu", "2024-01-01"))
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	ctx := context.Background()
	r := New(memory.New(), WithRetries(1000))

	id, err := r.CreatePerson(ctx, "u1", entry("Anu", "2024-01-01", 1))
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			date := fmt.Sprintf("2024-02-%02d", i%3+1)
			if _, err := r.AppendEntry(ctx, id, "u1", entry("Anu", date, 1)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	person, err := r.GetPerson(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, "11", person.TotalQuantity.String())

	details := allDetails(t, r, id, "u1")
	assert.Len(t, details, 4, "one detail per date")
	require.NoError(t, calculator.Reconcile(person, details))
}

// conflictingStore fails every batch with a version conflict.
type conflictingStore struct {
	storage.DocStore
	commits int
}

type conflictingBatch struct {
	storage.Batch
	store *conflictingStore
}

func (s *conflictingStore) Batch() storage.Batch {
	return &conflictingBatch{Batch: s.DocStore.Batch(), store: s}
}

func (b *conflictingBatch) Commit(context.Context) error {
	b.store.commits++
	return storage.ErrConflict
}

func TestRetriesAreBounded(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	id, err := New(base).CreatePerson(ctx, "u1", entry("Anu", "2024-01-01", 1))
	require.NoError(t, err)

	store := &conflictingStore{DocStore: base}
	r := New(store, WithRetries(3))

	_, err = r.AppendEntry(ctx, id, "u1", entry("Anu", "2024-01-01", 1))
	assert.ErrorIs(t, err, models.ErrStore)
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, 3, store.commits)
}

// failingStore fails every batch with a non-conflict error.
type failingStore struct {
	conflictingStore
}

type failingBatch struct {
	storage.Batch
	store *failingStore
}

func (s *failingStore) Batch() storage.Batch {
	return &failingBatch{Batch: s.DocStore.Batch(), store: s}
}

func (b *failingBatch) Commit(context.Context) error {
	b.store.commits++
	return errors.New("disk full")
}

func TestNonConflictErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	id, err := New(base).CreatePerson(ctx, "u1", entry("Anu", "2024-01-01", 1))
	require.NoError(t, err)

	store := &failingStore{conflictingStore{DocStore: base}}
	_, err = New(store).AppendEntry(ctx, id, "u1", entry("Anu", "2024-01-01", 1))
	assert.ErrorIs(t, err, models.ErrStore)
	assert.NotErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, 1, store.commits)
}

func TestRetriesStopWhenContextEnds(t *testing.T) {
	base := memory.New()
	id, err := New(base).CreatePerson(context.Background(), "u1", entry("Anu", "2024-01-01", 1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	store := &conflictingStore{DocStore: base}
	start := time.Now()
	_, err = New(store, WithRetries(1000)).AppendEntry(ctx, id, "u1", entry("Anu", "2024-01-01", 1))
	assert.ErrorIs(t, err, models.ErrStore)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Less(t, store.commits, 1000)
}

func TestListDetailsPagination(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	id, err := r.CreatePerson(ctx, "u1", entry("Anu", "2024-03-01", 1))
	require.NoError(t, err)
	for day := 2; day <= 23; day++ {
		_, err := r.AppendEntry(ctx, id, "u1", entry("Anu", fmt.Sprintf("2024-03-%02d", day), float64(day)))
		require.NoError(t, err)
	}
	full := allDetails(t, r, id, "u1")
	require.Len(t, full, 23)

	for _, byDate := range []bool{false, true} {
		t.Run(fmt.Sprintf("cursor by date %v", byDate), func(t *testing.T) {
			var union []*models.Detail
			seen := map[string]bool{}
			cursor := ""
			for {
				page, err := r.ListDetails(ctx, id, "u1", 5, cursor)
				require.NoError(t, err)
				if len(page) == 0 {
					break
				}
				assert.LessOrEqual(t, len(page), 5)
				for _, d := range page {
					assert.False(t, seen[d.ID], "pages must be disjoint")
					seen[d.ID] = true
				}
				union = append(union, page...)
				last := page[len(page)-1]
				cursor = last.ID
				if byDate {
					cursor = last.SelectedDate.String()
				}
			}
			assert.Equal(t, full, union)
			for i := 1; i < len(union); i++ {
				assert.True(t, union[i-1].SelectedDate.After(union[i].SelectedDate))
			}
		})
	}

	t.Run("default and maximum page size", func(t *testing.T) {
		page, err := r.ListDetails(ctx, id, "u1", 0, "")
		require.NoError(t, err)
		assert.Len(t, page, DefaultPageSize)

		page, err = r.ListDetails(ctx, id, "u1", 1000, "")
		require.NoError(t, err)
		assert.Len(t, page, 23)
	})

	t.Run("unknown cursor", func(t *testing.T) {
		_, err := r.ListDetails(ctx, id, "u1", 5, "no-such-detail")
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("foreign person", func(t *testing.T) {
		_, err := r.ListDetails(ctx, id, "u2", 5, "")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestSearchPersonsByNamePrefix(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	for _, p := range []struct{ owner, name string }{
		{"u1", "Anu"}, {"u1", "Ana"}, {"u1", "Bob"}, {"u1", "an"}, {"u2", "Anil"},
	} {
		_, err := r.CreatePerson(ctx, p.owner, entry(p.name, "2024-01-01", 1))
		require.NoError(t, err)
	}

	names := func(persons []*models.Person) []string {
		out := []string{}
		for _, p := range persons {
			out = append(out, p.Name)
		}
		return out
	}

	found, err := r.SearchPersonsByNamePrefix(ctx, "u1", "An")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "Anu"}, names(found))

	found, err = r.SearchPersonsByNamePrefix(ctx, "u2", "An")
	require.NoError(t, err)
	assert.Equal(t, []string{"Anil"}, names(found))

	found, err = r.SearchPersonsByNamePrefix(ctx, "u3", "An")
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)

	all, err := r.ListPersons(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "Anu", "Bob", "an"}, names(all))
}

func TestDeletePerson(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	id, err := r.CreatePerson(ctx, "u1", entry("Anu", "2024-01-01", 1))
	require.NoError(t, err)
	_, err = r.AppendEntry(ctx, id, "u1", entry("Anu", "2024-01-02", 1))
	require.NoError(t, err)

	assert.ErrorIs(t, r.DeletePerson(ctx, id, "u2"), models.ErrNotFound)
	_, err = r.GetPerson(ctx, id, "u1")
	require.NoError(t, err, "foreign delete must not remove anything")

	require.NoError(t, r.DeletePerson(ctx, id, "u1"))

	_, err = r.GetPerson(ctx, id, "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.ListDetails(ctx, id, "u1", 10, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.AppendEntry(ctx, id, "u1", entry("Anu", "2024-01-01", 1))
	assert.ErrorIs(t, err, models.ErrNotFound)
	persons, err := r.ListPersons(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, persons)
	assert.ErrorIs(t, r.DeletePerson(ctx, id, "u1"), models.ErrNotFound)
}
