// Package models defines the core domain models for the tally ledger.
//
// # Models
//
//   - Person: a tracked individual owned by one user, carrying the running
//     total of everything ever recorded for them
//   - Detail: the per-day bucket of quantity entries for a Person
//   - Entry: one validated write request (create or append)
//
// Quantities are exact decimals (Quantity) and days are UTC calendar dates
// (Date), so totals never drift and the same instant always lands in the same
// daily bucket regardless of the client's timezone.
//
// # Relationships
//
// Details reference their Person by ID string rather than by pointer; a Person
// and its Details are created and destroyed together.
//
// # Errors
//
// errors.go defines the error taxonomy shared by every layer. Storage and
// upstream failures are wrapped into it before they reach the transport, and
// StatusCode maps it onto HTTP.
package models
