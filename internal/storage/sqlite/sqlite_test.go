package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tallyledger/internal/storage"
	"github.com/mmynk/tallyledger/internal/storage/storetest"
)

func newTestStore(t *testing.T) storage.DocStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")

	t.Run("New creates parent directories", func(t *testing.T) {
		store, err := New(dbPath)
		require.NoError(t, err)

		b := store.Batch()
		b.Create("persons", "p1", storage.Fields{"name": "Anu", "total_quantity": "5"})
		require.NoError(t, b.Commit(ctx))
		require.NoError(t, store.Close())
	})

	t.Run("documents survive reopen", func(t *testing.T) {
		store, err := New(dbPath)
		require.NoError(t, err)
		defer store.Close()

		doc, err := store.Get(ctx, "persons", "p1")
		require.NoError(t, err)
		assert.Equal(t, "Anu", doc.String("name"))
		assert.Equal(t, int64(1), doc.Version)
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		store, err := New(dbPath)
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, runMigrations(store.DB()))
	})
}
