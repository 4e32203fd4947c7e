package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmynk/tallyledger/internal/models"
)

// looseCandidate accepts the shapes generation models actually produce.
type looseCandidate struct {
	Name            string            `json:"name"`
	QuantityEntries []json.RawMessage `json:"quantity_entries"`
	Quantity        json.RawMessage   `json:"quantity"`
	Unit            string            `json:"unit"`
	Item            string            `json:"item"`
	SelectedDate    string            `json:"selected_date"`
}

// ParseCandidate decodes an extractor reply. It tolerates markdown code
// fences around the JSON, quantities given as numeric strings, and a single
// "quantity" in place of "quantity_entries".
func ParseCandidate(raw string) (*Candidate, error) {
	body := stripFences(raw)
	start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("extraction reply is not a JSON object: %q", truncate(raw, 80))
	}

	var lc looseCandidate
	if err := json.Unmarshal([]byte(body[start:end+1]), &lc); err != nil {
		return nil, fmt.Errorf("failed to decode extraction reply: %w", err)
	}

	raws := lc.QuantityEntries
	if len(raws) == 0 && len(lc.Quantity) > 0 && string(lc.Quantity) != "null" {
		raws = []json.RawMessage{lc.Quantity}
	}
	entries := make([]models.Quantity, 0, len(raws))
	for _, r := range raws {
		q, err := looseQuantity(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, q)
	}

	c := &Candidate{
		Name:            strings.TrimSpace(lc.Name),
		QuantityEntries: entries,
		Unit:            strings.TrimSpace(lc.Unit),
		Item:            strings.TrimSpace(lc.Item),
		SelectedDate:    strings.TrimSpace(lc.SelectedDate),
	}
	if c.Name == "" {
		return nil, fmt.Errorf("extraction found no name")
	}
	if len(c.QuantityEntries) == 0 {
		return nil, fmt.Errorf("extraction found no quantity")
	}
	return c, nil
}

func looseQuantity(raw json.RawMessage) (models.Quantity, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.Quantity{}, fmt.Errorf("invalid quantity %s: %w", raw, err)
		}
		return models.ParseQuantity(strings.TrimSpace(s))
	}
	var q models.Quantity
	if err := json.Unmarshal(raw, &q); err != nil {
		return models.Quantity{}, err
	}
	return q, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
