package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tallyledger/internal/storage"
	"github.com/mmynk/tallyledger/internal/storage/storetest"
)

func TestMemoryStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.DocStore { return New() })
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.Add(ctx, "persons", storage.Fields{"entries": []string{"1"}})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "persons", id)
	require.NoError(t, err)
	doc.Fields["entries"] = []any{"tampered"}

	again, err := s.Get(ctx, "persons", id)
	require.NoError(t, err)
	assert.Equal(t, []any{"1"}, again.Fields["entries"])
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Get(ctx, "persons", "p1")
	assert.ErrorIs(t, err, context.Canceled)
}
