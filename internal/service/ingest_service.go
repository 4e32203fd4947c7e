package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmynk/tallyledger/internal/calculator"
	"github.com/mmynk/tallyledger/internal/ingest"
	"github.com/mmynk/tallyledger/internal/metrics"
	"github.com/mmynk/tallyledger/internal/models"
)

const DefaultUpstreamTimeout = 30 * time.Second

// Transcription is the result of running audio through both capabilities.
type Transcription struct {
	Text   string            `json:"transcription"`
	Output *ingest.Candidate `json:"output"`
}

// RecordResult describes the ledger write performed for a recording.
type RecordResult struct {
	Transcription
	PersonID      string          `json:"person_id"`
	Created       bool            `json:"created"`
	TotalQuantity models.Quantity `json:"total_quantity"`
}

// IngestService converts recorded speech into ledger candidates and, on
// request, records them.
type IngestService struct {
	transcriber ingest.Transcriber
	extractor   ingest.Extractor
	ledger      *LedgerService
	timeout     time.Duration
	now         func() time.Time
}

// NewIngestService creates an IngestService. A non-positive timeout uses
// DefaultUpstreamTimeout.
func NewIngestService(transcriber ingest.Transcriber, extractor ingest.Extractor, ledger *LedgerService, timeout time.Duration) *IngestService {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &IngestService{
		transcriber: transcriber,
		extractor:   extractor,
		ledger:      ledger,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Transcribe runs audio through the transcriber and the extractor. Any
// failure of either is an upstream error; nothing is retried.
func (s *IngestService) Transcribe(ctx context.Context, audio ingest.Audio) (*Transcription, error) {
	slog.Info("Transcribe request received", "bytes", len(audio.Data), "mime_type", audio.MIMEType)

	var text string
	err := s.call(ctx, "transcription", func(ctx context.Context) (err error) {
		text, err = s.transcriber.Transcribe(ctx, audio)
		return err
	})
	if err != nil {
		return nil, err
	}

	var candidate *ingest.Candidate
	err = s.call(ctx, "extraction", func(ctx context.Context) (err error) {
		candidate, err = s.extractor.Extract(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Transcription successful", "name", candidate.Name, "entries_count", len(candidate.QuantityEntries))
	return &Transcription{Text: text, Output: candidate}, nil
}

// Record transcribes audio and writes the candidate to the owner's ledger:
// to personID when given, else to the Person whose name matches, else to a
// new Person. A candidate without a date is recorded for today (UTC).
func (s *IngestService) Record(ctx context.Context, ownerID, personID string, audio ingest.Audio) (*RecordResult, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	tr, err := s.Transcribe(ctx, audio)
	if err != nil {
		return nil, err
	}

	c := tr.Output
	req := CreatePersonRequest{
		Name:            c.Name,
		SelectedDate:    c.SelectedDate,
		QuantityEntries: c.QuantityEntries,
		Item:            c.Item,
		Unit:            c.Unit,
	}
	if req.SelectedDate == "" {
		req.SelectedDate = models.DateOf(s.now()).String()
	}

	if personID == "" {
		match, err := s.ledger.FindPersonByName(ctx, ownerID, c.Name)
		if err != nil {
			return nil, err
		}
		if match != nil {
			personID = match.ID
		}
	}

	result := &RecordResult{Transcription: *tr}
	if personID == "" {
		id, err := s.ledger.CreatePerson(ctx, ownerID, req)
		if err != nil {
			return nil, err
		}
		result.PersonID = id
		result.Created = true
		result.TotalQuantity = calculator.Sum(req.QuantityEntries)
	} else {
		total, err := s.ledger.AddEntry(ctx, ownerID, personID, AddEntryRequest(req))
		if err != nil {
			return nil, err
		}
		result.PersonID = personID
		result.TotalQuantity = total
	}

	slog.Info("Recording stored", "person_id", result.PersonID, "created", result.Created)
	return result, nil
}

// call bounds fn by the upstream timeout and maps its failure.
func (s *IngestService) call(ctx context.Context, capability string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.UpstreamCallDuration.WithLabelValues(capability).Observe(time.Since(start).Seconds())
	metrics.UpstreamCallsTotal.WithLabelValues(capability, metrics.Outcome(err)).Inc()
	if err != nil {
		slog.Error("Upstream call failed", "capability", capability, "error", err)
		return models.UpstreamError(capability, err)
	}
	return nil
}
