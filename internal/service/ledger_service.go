package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmynk/tallyledger/internal/calculator"
	"github.com/mmynk/tallyledger/internal/metrics"
	"github.com/mmynk/tallyledger/internal/models"
)

const (
	maxNameBytes  = 200
	maxLabelBytes = 100

	DefaultStoreTimeout = 10 * time.Second
)

// Ledger is the persistence the LedgerService drives.
type Ledger interface {
	CreatePerson(ctx context.Context, ownerID string, e models.Entry) (string, error)
	AppendEntry(ctx context.Context, personID, ownerID string, e models.Entry) (models.Quantity, error)
	GetPerson(ctx context.Context, personID, ownerID string) (*models.Person, error)
	ListPersons(ctx context.Context, ownerID string) ([]*models.Person, error)
	SearchPersonsByNamePrefix(ctx context.Context, ownerID, prefix string) ([]*models.Person, error)
	ListDetails(ctx context.Context, personID, ownerID string, pageSize int, cursor string) ([]*models.Detail, error)
	DeletePerson(ctx context.Context, personID, ownerID string) error
}

// CreatePersonRequest is the body of a create-person call.
type CreatePersonRequest struct {
	Name            string            `json:"name"`
	SelectedDate    string            `json:"selected_date"`
	QuantityEntries []models.Quantity `json:"quantity_entries"`
	Item            string            `json:"item"`
	Unit            string            `json:"unit"`
	CreatedDate     string            `json:"created_date,omitempty"`
	ModifiedDate    string            `json:"modified_date,omitempty"`
}

// AddEntryRequest is the body of an add-entry call. Name is optional; when
// present it is validated like on create but does not rename the Person.
type AddEntryRequest CreatePersonRequest

// LedgerService validates requests and runs them against the Ledger under
// the caller's ownership.
type LedgerService struct {
	ledger  Ledger
	timeout time.Duration
}

// NewLedgerService creates a LedgerService. A non-positive timeout uses
// DefaultStoreTimeout.
func NewLedgerService(ledger Ledger, timeout time.Duration) *LedgerService {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &LedgerService{ledger: ledger, timeout: timeout}
}

// CreatePerson validates req and creates a Person with its first Detail.
func (s *LedgerService) CreatePerson(ctx context.Context, ownerID string, req CreatePersonRequest) (personID string, err error) {
	defer observe("create_person", &err)
	slog.Info("CreatePerson request received",
		"owner_id", ownerID,
		"name", req.Name,
		"entries_count", len(req.QuantityEntries),
	)
	if err := requireOwner(ownerID); err != nil {
		return "", err
	}
	e, err := buildEntry(req, true)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	personID, err = s.ledger.CreatePerson(ctx, ownerID, e)
	if err != nil {
		slog.Error("CreatePerson failed", "owner_id", ownerID, "error", err)
		return "", err
	}

	slog.Info("Person created", "person_id", personID, "total_quantity", calculator.Sum(e.Quantities))
	return personID, nil
}

// AddEntry validates req and appends it to the Person's ledger.
func (s *LedgerService) AddEntry(ctx context.Context, ownerID, personID string, req AddEntryRequest) (total models.Quantity, err error) {
	defer observe("add_entry", &err)
	slog.Info("AddEntry request received",
		"owner_id", ownerID,
		"person_id", personID,
		"entries_count", len(req.QuantityEntries),
	)
	if err := requireOwner(ownerID); err != nil {
		return models.Quantity{}, err
	}
	e, err := buildEntry(CreatePersonRequest(req), false)
	if err != nil {
		return models.Quantity{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	total, err = s.ledger.AppendEntry(ctx, personID, ownerID, e)
	if err != nil {
		logFailure("AddEntry failed", err, "person_id", personID)
		return models.Quantity{}, err
	}

	slog.Info("Entry added", "person_id", personID, "date", e.SelectedDate, "total_quantity", total)
	return total, nil
}

// GetPerson returns one Person.
func (s *LedgerService) GetPerson(ctx context.Context, ownerID, personID string) (person *models.Person, err error) {
	defer observe("get_person", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	person, err = s.ledger.GetPerson(ctx, personID, ownerID)
	if err != nil {
		logFailure("GetPerson failed", err, "person_id", personID)
		return nil, err
	}
	return person, nil
}

// ListPersons returns all Persons of the owner, ordered by name.
func (s *LedgerService) ListPersons(ctx context.Context, ownerID string) (persons []*models.Person, err error) {
	defer observe("list_persons", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	persons, err = s.ledger.ListPersons(ctx, ownerID)
	if err != nil {
		slog.Error("ListPersons failed", "owner_id", ownerID, "error", err)
		return nil, err
	}

	slog.Info("ListPersons successful", "owner_id", ownerID, "count", len(persons))
	return persons, nil
}

// SearchPersons returns the owner's Persons whose name starts with prefix.
func (s *LedgerService) SearchPersons(ctx context.Context, ownerID, prefix string) (persons []*models.Person, err error) {
	defer observe("search_persons", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if prefix == "" {
		return nil, models.Validationf("name query parameter is required")
	}
	if err := checkName(prefix); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	persons, err = s.ledger.SearchPersonsByNamePrefix(ctx, ownerID, prefix)
	if err != nil {
		slog.Error("SearchPersons failed", "owner_id", ownerID, "error", err)
		return nil, err
	}

	slog.Info("SearchPersons successful", "owner_id", ownerID, "prefix", prefix, "count", len(persons))
	return persons, nil
}

// FindPersonByName returns the owner's Person whose name equals name,
// ignoring case, or nil when there is none.
func (s *LedgerService) FindPersonByName(ctx context.Context, ownerID, name string) (*models.Person, error) {
	persons, err := s.ListPersons(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	for _, p := range persons {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return nil, nil
}

// ListDetails returns one page of a Person's Details, newest first.
func (s *LedgerService) ListDetails(ctx context.Context, ownerID, personID string, pageSize int, cursor string) (details []*models.Detail, err error) {
	defer observe("list_details", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if pageSize < 0 {
		return nil, models.Validationf("pageSize must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	details, err = s.ledger.ListDetails(ctx, personID, ownerID, pageSize, cursor)
	if err != nil {
		logFailure("ListDetails failed", err, "person_id", personID)
		return nil, err
	}
	return details, nil
}

// DeletePerson removes a Person and all of its Details.
func (s *LedgerService) DeletePerson(ctx context.Context, ownerID, personID string) (err error) {
	defer observe("delete_person", &err)
	slog.Info("DeletePerson request received", "owner_id", ownerID, "person_id", personID)
	if err := requireOwner(ownerID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.ledger.DeletePerson(ctx, personID, ownerID); err != nil {
		logFailure("DeletePerson failed", err, "person_id", personID)
		return err
	}

	slog.Info("Person deleted", "person_id", personID)
	return nil
}

func buildEntry(req CreatePersonRequest, nameRequired bool) (models.Entry, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" && nameRequired {
		return models.Entry{}, models.Validationf("name is required")
	}
	if name != "" {
		if err := checkName(name); err != nil {
			return models.Entry{}, err
		}
	}
	if strings.TrimSpace(req.SelectedDate) == "" {
		return models.Entry{}, models.Validationf("selected_date is required")
	}
	date, err := models.ParseDate(strings.TrimSpace(req.SelectedDate))
	if err != nil {
		return models.Entry{}, models.Validationf("selected_date: %v", err)
	}
	if len(req.QuantityEntries) == 0 {
		return models.Entry{}, models.Validationf("quantity_entries must contain at least one number")
	}
	for _, q := range req.QuantityEntries {
		if err := q.Validate(); err != nil {
			return models.Entry{}, err
		}
	}
	item := strings.TrimSpace(req.Item)
	unit := strings.TrimSpace(req.Unit)
	if len(item) > maxLabelBytes || len(unit) > maxLabelBytes {
		return models.Entry{}, models.Validationf("item and unit must be at most %d bytes", maxLabelBytes)
	}
	return models.Entry{
		Name:         name,
		SelectedDate: date,
		Quantities:   req.QuantityEntries,
		Item:         item,
		Unit:         unit,
		CreatedDate:  req.CreatedDate,
		ModifiedDate: req.ModifiedDate,
	}, nil
}

func checkName(name string) error {
	switch {
	case !utf8.ValidString(name):
		return models.Validationf("name must be valid UTF-8")
	case strings.ContainsRune(name, utf8.MaxRune):
		return models.Validationf("name contains an unsupported character")
	case len(name) > maxNameBytes:
		return models.Validationf("name must be at most %d bytes", maxNameBytes)
	}
	return nil
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return models.AuthError(nil)
	}
	return nil
}

// logFailure logs expected client errors at Warn and everything else at Error.
func logFailure(msg string, err error, args ...any) {
	args = append(args, "error", err)
	if models.StatusCode(err) < 500 {
		slog.Warn(msg, args...)
		return
	}
	slog.Error(msg, args...)
}

func observe(op string, err *error) {
	metrics.LedgerOperationsTotal.WithLabelValues(op, models.Kind(*err)).Inc()
}
