package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tallyledger/internal/ingest"
	"github.com/mmynk/tallyledger/internal/models"
)

type fakeTranscriber struct {
	text  string
	err   error
	block bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ ingest.Audio) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

type fakeExtractor struct {
	candidate *ingest.Candidate
	err       error
	calls     int
}

func (f *fakeExtractor) Extract(context.Context, string) (*ingest.Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c := *f.candidate
	return &c, nil
}

var audio = ingest.Audio{Data: []byte("OggS"), MIMEType: "audio/ogg", Filename: "note.ogg"}

func TestTranscribe(t *testing.T) {
	ctx := context.Background()
	candidate := &ingest.Candidate{Name: "Anu", QuantityEntries: qty(2), Unit: "litre", Item: "milk"}

	t.Run("success", func(t *testing.T) {
		svc := NewIngestService(&fakeTranscriber{text: "Anu had two litres of milk"}, &fakeExtractor{candidate: candidate}, setupLedger(t), time.Second)
		tr, err := svc.Transcribe(ctx, audio)
		require.NoError(t, err)
		assert.Equal(t, "Anu had two litres of milk", tr.Text)
		assert.Equal(t, "Anu", tr.Output.Name)
	})

	t.Run("transcriber failure skips extraction", func(t *testing.T) {
		ex := &fakeExtractor{candidate: candidate}
		svc := NewIngestService(&fakeTranscriber{err: errors.New("quota exceeded")}, ex, setupLedger(t), time.Second)
		_, err := svc.Transcribe(ctx, audio)
		assert.ErrorIs(t, err, models.ErrUpstream)
		assert.Equal(t, 0, ex.calls)
		assert.Equal(t, "transcription failed", models.Message(err))
	})

	t.Run("extractor failure", func(t *testing.T) {
		svc := NewIngestService(&fakeTranscriber{text: "hm"}, &fakeExtractor{err: errors.New("no name")}, setupLedger(t), time.Second)
		_, err := svc.Transcribe(ctx, audio)
		assert.ErrorIs(t, err, models.ErrUpstream)
	})

	t.Run("timeout is an upstream error", func(t *testing.T) {
		svc := NewIngestService(&fakeTranscriber{block: true}, &fakeExtractor{candidate: candidate}, setupLedger(t), 20*time.Millisecond)
		_, err := svc.Transcribe(ctx, audio)
		assert.ErrorIs(t, err, models.ErrUpstream)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("not configured", func(t *testing.T) {
		svc := NewIngestService(ingest.Unavailable{}, ingest.Unavailable{}, setupLedger(t), time.Second)
		_, err := svc.Transcribe(ctx, audio)
		assert.ErrorIs(t, err, models.ErrUpstream)
		assert.ErrorIs(t, err, ingest.ErrNotConfigured)
	})
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	ledger := setupLedger(t)
	ex := &fakeExtractor{candidate: &ingest.Candidate{Name: "Anu", QuantityEntries: qty(2, 3), Unit: "litre", Item: "milk"}}
	svc := NewIngestService(&fakeTranscriber{text: "..."}, ex, ledger, time.Second)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC) }

	first, err := svc.Record(ctx, "u1", "", audio)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "5", first.TotalQuantity.String())

	ex.candidate = &ingest.Candidate{Name: "anu", QuantityEntries: qty(1)}
	second, err := svc.Record(ctx, "u1", "", audio)
	require.NoError(t, err)
	assert.False(t, second.Created, "case-insensitive name match appends")
	assert.Equal(t, first.PersonID, second.PersonID)
	assert.Equal(t, "6", second.TotalQuantity.String())

	ex.candidate = &ingest.Candidate{Name: "Someone else", QuantityEntries: qty(4), SelectedDate: "2024-01-02"}
	third, err := svc.Record(ctx, "u1", first.PersonID, audio)
	require.NoError(t, err)
	assert.Equal(t, first.PersonID, third.PersonID, "explicit person id wins over the spoken name")
	assert.Equal(t, "10", third.TotalQuantity.String())

	details, err := ledger.ListDetails(ctx, "u1", first.PersonID, 10, "")
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, "2024-01-02", details[0].SelectedDate.String())
	assert.Equal(t, "2024-01-01", details[1].SelectedDate.String(), "missing date defaults to today")

	_, err = svc.Record(ctx, "u2", first.PersonID, audio)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.Record(ctx, "", "", audio)
	assert.ErrorIs(t, err, models.ErrAuth)
}
