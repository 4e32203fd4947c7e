// Package ingest turns recorded speech into ledger candidates: a Transcriber
// converts audio to text and an Extractor pulls the structured entry out of
// the text.
package ingest

import (
	"context"
	"errors"

	"github.com/mmynk/tallyledger/internal/models"
)

// ErrNotConfigured is returned by Unavailable.
var ErrNotConfigured = errors.New("speech ingestion is not configured")

// Audio is an uploaded recording.
type Audio struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// Extractor reads a ledger candidate out of free-form text.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Candidate, error)
}

// Candidate is the structured result of extraction, shaped like a
// create-person request body.
type Candidate struct {
	Name            string            `json:"name"`
	QuantityEntries []models.Quantity `json:"quantity_entries"`
	Unit            string            `json:"unit"`
	Item            string            `json:"item"`
	SelectedDate    string            `json:"selected_date,omitempty"`
}

// Unavailable stands in for both capabilities when no provider is configured.
type Unavailable struct{}

func (Unavailable) Transcribe(context.Context, Audio) (string, error) {
	return "", ErrNotConfigured
}

func (Unavailable) Extract(context.Context, string) (*Candidate, error) {
	return nil, ErrNotConfigured
}
