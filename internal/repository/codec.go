package repository

import (
	"fmt"
	"time"

	"github.com/mmynk/tallyledger/internal/calculator"
	"github.com/mmynk/tallyledger/internal/models"
	"github.com/mmynk/tallyledger/internal/storage"
)

// Stored field names.
const (
	fieldOwnerID         = "owner_id"
	fieldName            = "name"
	fieldItem            = "item"
	fieldUnit            = "unit"
	fieldTotalQuantity   = "total_quantity"
	fieldCreatedAt       = "created_at"
	fieldModifiedAt      = "modified_at"
	fieldPersonID        = "person_id"
	fieldSelectedDate    = "selected_date"
	fieldQuantityEntries = "quantity_entries"
	fieldCreatedDate     = "created_date"
	fieldModifiedDate    = "modified_date"
)

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func quantityStrings(entries []models.Quantity) []string {
	out := make([]string, len(entries))
	for i, q := range entries {
		out[i] = q.String()
	}
	return out
}

func newPersonFields(ownerID string, e models.Entry, now time.Time) storage.Fields {
	return storage.Fields{
		fieldOwnerID:       ownerID,
		fieldName:          e.Name,
		fieldItem:          e.Item,
		fieldUnit:          e.Unit,
		fieldTotalQuantity: calculator.Sum(e.Quantities).String(),
		fieldCreatedAt:     timestamp(now),
		fieldModifiedAt:    timestamp(now),
	}
}

func newDetailFields(personID string, e models.Entry, now time.Time) storage.Fields {
	label := models.DateOf(now).String()
	return storage.Fields{
		fieldPersonID:        personID,
		fieldSelectedDate:    e.SelectedDate.String(),
		fieldQuantityEntries: quantityStrings(e.Quantities),
		fieldItem:            e.Item,
		fieldUnit:            e.Unit,
		fieldTotalQuantity:   calculator.Sum(e.Quantities).String(),
		fieldCreatedDate:     orDefault(e.CreatedDate, label),
		fieldModifiedDate:    orDefault(e.ModifiedDate, label),
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func decodePerson(doc *storage.Document) (*models.Person, error) {
	total, err := models.ParseQuantity(doc.String(fieldTotalQuantity))
	if err != nil {
		return nil, fmt.Errorf("person %s: %w", doc.ID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, doc.String(fieldCreatedAt))
	if err != nil {
		return nil, fmt.Errorf("person %s: created_at: %w", doc.ID, err)
	}
	modifiedAt, err := time.Parse(time.RFC3339Nano, doc.String(fieldModifiedAt))
	if err != nil {
		return nil, fmt.Errorf("person %s: modified_at: %w", doc.ID, err)
	}
	return &models.Person{
		ID:            doc.ID,
		OwnerID:       doc.String(fieldOwnerID),
		Name:          doc.String(fieldName),
		Item:          doc.String(fieldItem),
		Unit:          doc.String(fieldUnit),
		TotalQuantity: total,
		CreatedAt:     createdAt,
		ModifiedAt:    modifiedAt,
	}, nil
}

func decodeDetail(doc *storage.Document) (*models.Detail, error) {
	date, err := models.ParseDate(doc.String(fieldSelectedDate))
	if err != nil {
		return nil, fmt.Errorf("detail %s: %w", doc.ID, err)
	}
	entries, err := decodeEntries(doc)
	if err != nil {
		return nil, err
	}
	total, err := models.ParseQuantity(doc.String(fieldTotalQuantity))
	if err != nil {
		return nil, fmt.Errorf("detail %s: %w", doc.ID, err)
	}
	return &models.Detail{
		ID:              doc.ID,
		PersonID:        doc.String(fieldPersonID),
		SelectedDate:    date,
		QuantityEntries: entries,
		Item:            doc.String(fieldItem),
		Unit:            doc.String(fieldUnit),
		TotalQuantity:   total,
		CreatedDate:     doc.String(fieldCreatedDate),
		ModifiedDate:    doc.String(fieldModifiedDate),
	}, nil
}

func decodeEntries(doc *storage.Document) ([]models.Quantity, error) {
	raw := doc.Strings(fieldQuantityEntries)
	entries := make([]models.Quantity, len(raw))
	for i, s := range raw {
		q, err := models.ParseQuantity(s)
		if err != nil {
			return nil, fmt.Errorf("detail %s: %w", doc.ID, err)
		}
		entries[i] = q
	}
	return entries, nil
}
