// Package api exposes the ledger and ingestion services over REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"

	"github.com/mmynk/tallyledger/internal/api/respond"
	"github.com/mmynk/tallyledger/internal/ingest"
	"github.com/mmynk/tallyledger/internal/middleware"
	"github.com/mmynk/tallyledger/internal/models"
	"github.com/mmynk/tallyledger/internal/service"
)

const (
	maxJSONBytes = 1 << 20
	// multipart framing allowed on top of the audio itself
	multipartSlack = 1 << 20

	DefaultMaxAudioBytes = 25 << 20
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves every route of the REST surface.
type Handler struct {
	ledger        *service.LedgerService
	ingest        *service.IngestService
	store         Pinger
	maxAudioBytes int64
}

// NewHandler creates a Handler. A non-positive maxAudioBytes uses
// DefaultMaxAudioBytes.
func NewHandler(ledger *service.LedgerService, ingestSvc *service.IngestService, store Pinger, maxAudioBytes int64) *Handler {
	if maxAudioBytes <= 0 {
		maxAudioBytes = DefaultMaxAudioBytes
	}
	return &Handler{ledger: ledger, ingest: ingestSvc, store: store, maxAudioBytes: maxAudioBytes}
}

type messageResponse struct {
	Message string `json:"message"`
}

type createPersonResponse struct {
	Message  string `json:"message"`
	PersonID string `json:"person_id"`
}

type addEntryResponse struct {
	Message       string          `json:"message"`
	TotalQuantity models.Quantity `json:"total_quantity"`
}

type ingestResponse struct {
	Message string `json:"message"`
	*service.RecordResult
}

// Transcribe handles POST /transcribe.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	audio, err := h.readAudio(w, r)
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	tr, err := h.ingest.Transcribe(r.Context(), audio)
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, tr)
}

// Ingest handles POST /ingest: transcribe and record in one call.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	audio, err := h.readAudio(w, r)
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	result, err := h.ingest.Record(r.Context(), middleware.GetUserID(r.Context()), r.FormValue("person_id"), audio)
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	msg := "Entry added"
	if result.Created {
		msg = "Person created"
	}
	respond.WriteJSON(w, http.StatusOK, ingestResponse{Message: msg, RecordResult: result})
}

// CreatePerson handles POST /create-person.
func (h *Handler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePersonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.WriteError(w, err)
		return
	}
	id, err := h.ledger.CreatePerson(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, createPersonResponse{Message: "Person created", PersonID: id})
}

// AddEntry handles POST /person/{id}/add-entry.
func (h *Handler) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req service.AddEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.WriteError(w, err)
		return
	}
	total, err := h.ledger.AddEntry(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], req)
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, addEntryResponse{Message: "Entry added", TotalQuantity: total})
}

// GetPerson handles GET /person/{id}.
func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	person, err := h.ledger.GetPerson(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, person)
}

// ListPersons handles GET /persons.
func (h *Handler) ListPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.ledger.ListPersons(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, nonNil(persons))
}

// SearchPersons handles GET /persons/search?name=.
func (h *Handler) SearchPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.ledger.SearchPersons(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("name"))
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, nonNil(persons))
}

// ListDetails handles GET /person/{id}/details?lastVisibleDate=&pageSize=.
func (h *Handler) ListDetails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize := 0
	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respond.WriteError(w, models.Validationf("pageSize must be an integer"))
			return
		}
		pageSize = n
	}

	details, err := h.ledger.ListDetails(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], pageSize, q.Get("lastVisibleDate"))
	if err != nil {
		respond.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, nonNil(details))
}

// DeletePerson handles DELETE /person-delete/{id}.
func (h *Handler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeletePerson(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		respond.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, messageResponse{Message: "Person and associated details deleted"})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readAudio pulls the "audio" part out of a multipart upload.
func (h *Handler) readAudio(w http.ResponseWriter, r *http.Request) (ingest.Audio, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudioBytes+multipartSlack)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ingest.Audio{}, models.Validationf("audio file exceeds %d bytes", h.maxAudioBytes)
		}
		return ingest.Audio{}, models.Validationf("expected a multipart form with an audio file")
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return ingest.Audio{}, models.Validationf("No audio file provided")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxAudioBytes+1))
	if err != nil {
		return ingest.Audio{}, models.Validationf("failed to read audio file")
	}
	if int64(len(data)) > h.maxAudioBytes {
		return ingest.Audio{}, models.Validationf("audio file exceeds %d bytes", h.maxAudioBytes)
	}
	if len(data) == 0 {
		return ingest.Audio{}, models.Validationf("audio file is empty")
	}

	return ingest.Audio{
		Data:     data,
		MIMEType: audioMIMEType(header.Header.Get("Content-Type"), header.Filename, data),
		Filename: header.Filename,
	}, nil
}

// audioMIMEType prefers the declared part type, then the type sniffed from
// the content, then the file extension.
func audioMIMEType(declared, filename string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") || strings.HasPrefix(m.String(), "video/") {
			return baseType(m.String())
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return baseType(byExt)
	}
	return baseType(detected.String())
}

func baseType(v string) string {
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return mt
	}
	return v
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.Validationf("request body too large")
		}
		return models.Validationf("invalid request body: %v", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
