// Package client is a Go client for the ledger REST API.
package client

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mmynk/tallyledger/internal/api/respond"
	"github.com/mmynk/tallyledger/internal/models"
	"github.com/mmynk/tallyledger/internal/service"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client calls the ledger API as one owner.
type Client struct {
	http *resty.Client
}

// New creates a Client for baseURL. token may be empty for the
// unauthenticated routes.
func New(baseURL, token string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetError(&respond.ErrorResponse{})
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

type createPersonResponse struct {
	Message  string `json:"message"`
	PersonID string `json:"person_id"`
}

type addEntryResponse struct {
	Message       string          `json:"message"`
	TotalQuantity models.Quantity `json:"total_quantity"`
}

// CreatePerson creates a Person and returns its id.
func (c *Client) CreatePerson(ctx context.Context, req service.CreatePersonRequest) (string, error) {
	var out createPersonResponse
	if err := c.do(c.http.R().SetContext(ctx).SetBody(req).SetResult(&out), resty.MethodPost, "/create-person"); err != nil {
		return "", err
	}
	return out.PersonID, nil
}

// AddEntry appends to personID and returns the new total.
func (c *Client) AddEntry(ctx context.Context, personID string, req service.AddEntryRequest) (models.Quantity, error) {
	var out addEntryResponse
	r := c.http.R().SetContext(ctx).SetPathParam("id", personID).SetBody(req).SetResult(&out)
	if err := c.do(r, resty.MethodPost, "/person/{id}/add-entry"); err != nil {
		return models.Quantity{}, err
	}
	return out.TotalQuantity, nil
}

func (c *Client) GetPerson(ctx context.Context, personID string) (*models.Person, error) {
	var out models.Person
	r := c.http.R().SetContext(ctx).SetPathParam("id", personID).SetResult(&out)
	if err := c.do(r, resty.MethodGet, "/person/{id}"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPersons(ctx context.Context) ([]*models.Person, error) {
	var out []*models.Person
	if err := c.do(c.http.R().SetContext(ctx).SetResult(&out), resty.MethodGet, "/persons"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SearchPersons(ctx context.Context, prefix string) ([]*models.Person, error) {
	var out []*models.Person
	r := c.http.R().SetContext(ctx).SetQueryParam("name", prefix).SetResult(&out)
	if err := c.do(r, resty.MethodGet, "/persons/search"); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDetails fetches one page of details, newest first. cursor is the last
// selected date (or detail id) of the previous page.
func (c *Client) ListDetails(ctx context.Context, personID string, pageSize int, cursor string) ([]*models.Detail, error) {
	var out []*models.Detail
	r := c.http.R().SetContext(ctx).SetPathParam("id", personID).SetResult(&out)
	if pageSize > 0 {
		r.SetQueryParam("pageSize", strconv.Itoa(pageSize))
	}
	if cursor != "" {
		r.SetQueryParam("lastVisibleDate", cursor)
	}
	if err := c.do(r, resty.MethodGet, "/person/{id}/details"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeletePerson(ctx context.Context, personID string) error {
	return c.do(c.http.R().SetContext(ctx).SetPathParam("id", personID), resty.MethodDelete, "/person-delete/{id}")
}

// Transcribe uploads audio and returns the transcription and the extracted
// candidate. Nothing is written to the ledger.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (*service.Transcription, error) {
	var out service.Transcription
	r := c.http.R().SetContext(ctx).SetFileReader("audio", filename, audio).SetResult(&out)
	if err := c.do(r, resty.MethodPost, "/transcribe"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ingest uploads audio and records the extracted entry. personID may be
// empty to match or create by the spoken name.
func (c *Client) Ingest(ctx context.Context, personID, filename string, audio io.Reader) (*service.RecordResult, error) {
	var out service.RecordResult
	r := c.http.R().SetContext(ctx).SetFileReader("audio", filename, audio).SetResult(&out)
	if personID != "" {
		r.SetFormData(map[string]string{"person_id": personID})
	}
	if err := c.do(r, resty.MethodPost, "/ingest"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(r *resty.Request, method, path string) error {
	resp, err := r.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode(), Status: resp.Status()}
		if body, ok := resp.Error().(*respond.ErrorResponse); ok && body != nil {
			apiErr.Message = body.Message
		}
		return apiErr
	}
	return nil
}
