package models

import "time"

// Person is a tracked individual within one owner's ledger.
type Person struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	Item          string    `json:"item"`
	Unit          string    `json:"unit"`
	TotalQuantity Quantity  `json:"total_quantity"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
}

// Detail is the per-day bucket of entries for a Person. There is at most one
// Detail per (Person, SelectedDate).
type Detail struct {
	ID              string     `json:"id"`
	PersonID        string     `json:"person_id"`
	SelectedDate    Date       `json:"selected_date"`
	QuantityEntries []Quantity `json:"quantity_entries"`
	Item            string     `json:"item"`
	Unit            string     `json:"unit"`
	TotalQuantity   Quantity   `json:"total_quantity"`
	CreatedDate     string     `json:"created_date"`
	ModifiedDate    string     `json:"modified_date"`
}

// Entry is a validated write against the ledger.
type Entry struct {
	Name         string
	SelectedDate Date
	Quantities   []Quantity
	Item         string
	Unit         string

	// Caller-supplied labels, stored verbatim. Empty means today.
	CreatedDate  string
	ModifiedDate string
}
