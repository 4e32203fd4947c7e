// Package repository implements the person ledger on top of a document store.
//
// Layout:
//
//	persons/{personID}                     Person documents
//	persons/{personID}/details/{detailID}  one Detail per (Person, date)
//
// Every write that touches a Person's total is a single batch conditioned on
// the Person's version. Concurrent writers therefore conflict instead of
// overwriting each other, and the losing writer re-reads and tries again.
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/mmynk/tallyledger/internal/calculator"
	"github.com/mmynk/tallyledger/internal/metrics"
	"github.com/mmynk/tallyledger/internal/models"
	"github.com/mmynk/tallyledger/internal/storage"
)

const (
	personsCollection = "persons"

	DefaultPageSize = 10
	MaxPageSize     = 100
	DefaultRetries  = 10

	retryInitialInterval = 5 * time.Millisecond
	retryMaxInterval     = 250 * time.Millisecond
)

func detailsCollection(personID string) string {
	return personsCollection + "/" + personID + "/details"
}

// Repository is the ledger's persistence layer.
type Repository struct {
	store   storage.DocStore
	now     func() time.Time
	retries int
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source used for timestamps and default labels.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithRetries sets how many times a conflicting write is attempted.
func WithRetries(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.retries = n
		}
	}
}

// New creates a Repository over store.
func New(store storage.DocStore, opts ...Option) *Repository {
	r := &Repository{store: store, now: time.Now, retries: DefaultRetries}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreatePerson stores a new Person together with the Detail for the entry's
// date, in one batch. The Person's total is the sum of the entry.
func (r *Repository) CreatePerson(ctx context.Context, ownerID string, e models.Entry) (string, error) {
	if e.Name == "" {
		return "", models.Validationf("name is required")
	}
	if err := checkEntry(e); err != nil {
		return "", err
	}

	now := r.now()
	personID := storage.NewID()

	b := r.store.Batch()
	b.Create(personsCollection, personID, newPersonFields(ownerID, e, now))
	b.Create(detailsCollection(personID), storage.NewID(), newDetailFields(personID, e, now))
	if err := b.Commit(ctx); err != nil {
		return "", models.StoreError("create person", err)
	}

	slog.Debug("Person created", "person_id", personID, "owner_id", ownerID)
	return personID, nil
}

// AppendEntry adds the entry to the Person's Detail for its date, creating
// the Detail if needed, and returns the Person's new total.
func (r *Repository) AppendEntry(ctx context.Context, personID, ownerID string, e models.Entry) (models.Quantity, error) {
	if err := checkEntry(e); err != nil {
		return models.Quantity{}, err
	}

	var total models.Quantity
	err := r.withRetry(ctx, "append entry", func() error {
		doc, person, err := r.ownedPerson(ctx, personID, ownerID)
		if err != nil {
			return err
		}
		detail, err := r.detailByDate(ctx, personID, e.SelectedDate)
		if err != nil {
			return err
		}

		now := r.now()
		total = person.TotalQuantity.Add(calculator.Sum(e.Quantities))

		b := r.store.Batch()
		b.Update(personsCollection, personID, storage.Fields{
			fieldTotalQuantity: total.String(),
			fieldModifiedAt:    timestamp(now),
		}, storage.IfVersion(doc.Version))

		if detail == nil {
			b.Create(detailsCollection(personID), storage.NewID(), newDetailFields(personID, e, now))
			return b.Commit(ctx)
		}

		existing, err := decodeEntries(detail)
		if err != nil {
			return err
		}
		merged := calculator.AppendEntries(existing, e.Quantities)
		fields := storage.Fields{
			fieldQuantityEntries: quantityStrings(merged),
			fieldTotalQuantity:   calculator.Sum(merged).String(),
			fieldModifiedDate:    orDefault(e.ModifiedDate, models.DateOf(now).String()),
		}
		if e.Item != "" {
			fields[fieldItem] = e.Item
		}
		if e.Unit != "" {
			fields[fieldUnit] = e.Unit
		}
		b.Update(detailsCollection(personID), detail.ID, fields, storage.IfVersion(detail.Version))
		return b.Commit(ctx)
	})
	if err != nil {
		return models.Quantity{}, err
	}
	return total, nil
}

// GetPerson returns the Person if it exists and belongs to ownerID.
func (r *Repository) GetPerson(ctx context.Context, personID, ownerID string) (*models.Person, error) {
	_, person, err := r.ownedPerson(ctx, personID, ownerID)
	if err != nil {
		return nil, classify("get person", err)
	}
	return person, nil
}

// ListPersons returns the owner's Persons ordered by name.
func (r *Repository) ListPersons(ctx context.Context, ownerID string) ([]*models.Person, error) {
	return r.queryPersons(ctx, "list persons", storage.Query{
		Filters: []storage.Filter{storage.Where(fieldOwnerID, storage.OpEqual, ownerID)},
		OrderBy: fieldName,
	})
}

// SearchPersonsByNamePrefix returns the owner's Persons whose name starts
// with prefix, ordered by name. utf8.MaxRune sorts after every other valid
// UTF-8 sequence, so [prefix, prefix+MaxRune) covers exactly the prefix.
func (r *Repository) SearchPersonsByNamePrefix(ctx context.Context, ownerID, prefix string) ([]*models.Person, error) {
	return r.queryPersons(ctx, "search persons", storage.Query{
		Filters: []storage.Filter{
			storage.Where(fieldOwnerID, storage.OpEqual, ownerID),
			storage.Where(fieldName, storage.OpGreaterEqual, prefix),
			storage.Where(fieldName, storage.OpLess, prefix+string(utf8.MaxRune)),
		},
		OrderBy: fieldName,
	})
}

// ListDetails returns one page of the Person's Details, newest date first.
//
// cursor is either empty, the id of the last Detail of the previous page, or
// a date (results are strictly older than it).
func (r *Repository) ListDetails(ctx context.Context, personID, ownerID string, pageSize int, cursor string) ([]*models.Detail, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if _, _, err := r.ownedPerson(ctx, personID, ownerID); err != nil {
		return nil, classify("list details", err)
	}

	q := storage.Query{OrderBy: fieldSelectedDate, Descending: true, Limit: pageSize}
	if cursor != "" {
		if date, err := models.ParseDate(cursor); err == nil {
			q.Filters = []storage.Filter{storage.Where(fieldSelectedDate, storage.OpLess, date.String())}
		} else {
			q.StartAfter = cursor
		}
	}

	docs, err := r.store.Query(ctx, detailsCollection(personID), q)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, models.Validationf("unknown cursor %q", cursor)
	}
	if err != nil {
		return nil, models.StoreError("list details", err)
	}

	details := make([]*models.Detail, 0, len(docs))
	for _, doc := range docs {
		d, err := decodeDetail(doc)
		if err != nil {
			return nil, models.StoreError("list details", err)
		}
		details = append(details, d)
	}
	return details, nil
}

// DeletePerson removes the Person and all of its Details in one batch.
func (r *Repository) DeletePerson(ctx context.Context, personID, ownerID string) error {
	return r.withRetry(ctx, "delete person", func() error {
		doc, _, err := r.ownedPerson(ctx, personID, ownerID)
		if err != nil {
			return err
		}
		details, err := r.store.Query(ctx, detailsCollection(personID), storage.Query{})
		if err != nil {
			return err
		}

		b := r.store.Batch()
		for _, d := range details {
			b.Delete(detailsCollection(personID), d.ID, storage.Precondition{})
		}
		// A concurrent append bumps the version, so its Detail cannot be orphaned.
		b.Delete(personsCollection, personID, storage.IfVersion(doc.Version))
		return b.Commit(ctx)
	})
}

// ownedPerson loads a Person, reporting a foreign Person as not found.
func (r *Repository) ownedPerson(ctx context.Context, personID, ownerID string) (*storage.Document, *models.Person, error) {
	doc, err := r.store.Get(ctx, personsCollection, personID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, models.NotFound("person")
	}
	if err != nil {
		return nil, nil, err
	}
	if doc.String(fieldOwnerID) != ownerID {
		return nil, nil, models.NotFound("person")
	}
	person, err := decodePerson(doc)
	if err != nil {
		return nil, nil, err
	}
	return doc, person, nil
}

// detailByDate returns the Detail document for date, or nil.
func (r *Repository) detailByDate(ctx context.Context, personID string, date models.Date) (*storage.Document, error) {
	docs, err := r.store.Query(ctx, detailsCollection(personID), storage.Query{
		Filters: []storage.Filter{storage.Where(fieldSelectedDate, storage.OpEqual, date.String())},
		Limit:   1,
	})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (r *Repository) queryPersons(ctx context.Context, op string, q storage.Query) ([]*models.Person, error) {
	docs, err := r.store.Query(ctx, personsCollection, q)
	if err != nil {
		return nil, models.StoreError(op, err)
	}
	persons := make([]*models.Person, 0, len(docs))
	for _, doc := range docs {
		p, err := decodePerson(doc)
		if err != nil {
			return nil, models.StoreError(op, err)
		}
		persons = append(persons, p)
	}
	return persons, nil
}

// withRetry runs a read-compute-write cycle until it commits without a
// version conflict or the attempts are used up. Conflicting writers back off
// with jitter so they stop colliding on the next attempt.
func (r *Repository) withRetry(ctx context.Context, op string, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = retryInitialInterval
	exp.RandomizationFactor = 0.5
	exp.Multiplier = 2
	exp.MaxInterval = retryMaxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.retries-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return backoff.Permanent(err)
		}
		metrics.VersionConflictsTotal.WithLabelValues(op).Inc()
		slog.Debug("Version conflict", "operation", op, "attempt", attempt)
		return err
	}, policy)
	return classify(op, err)
}

// classify passes taxonomy errors through and wraps everything else as a
// store failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.Error
	if errors.As(err, &appErr) {
		return err
	}
	return models.StoreError(op, err)
}

func checkEntry(e models.Entry) error {
	if len(e.Quantities) == 0 {
		return models.Validationf("quantity_entries must not be empty")
	}
	if e.SelectedDate.IsZero() {
		return models.Validationf("selected_date is required")
	}
	for _, q := range e.Quantities {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}
