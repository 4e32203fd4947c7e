package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat is the canonical representation of a Date, also used as the
// store-level merge key. Lexicographic order equals chronological order.
const DateFormat = "2006-01-02"

const readDateFormat = "2006-1-2" // permissive: single-digit month/day

// Date is a calendar day. The reference timezone is fixed to UTC: timestamps
// are converted to UTC before their time of day is discarded.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalized Date, e.g. NewDate(2024, 1, 32) is 2024-02-01.
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{t.Year(), t.Month(), t.Day()}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date { return NewDate(t.UTC().Date()) }

// Today returns the current UTC date.
func Today() Date { return DateOf(time.Now()) }

// ParseDate reads a date in DateFormat, the permissive 2006-1-2 form, or as an
// RFC 3339 timestamp (with or without zone; a missing zone means UTC).
func ParseDate(s string) (Date, error) {
	for _, layout := range []string{DateFormat, readDateFormat} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.y == 0 && d.m == 0 && d.d == 0 }

func (d Date) Before(x Date) bool { return d.Time().Before(x.Time()) }
func (d Date) After(x Date) bool  { return d.Time().After(x.Time()) }
func (d Date) Equal(x Date) bool  { return d == x }

// AddDays returns the date i days later (earlier when negative).
func (d Date) AddDays(i int) Date { return NewDate(d.y, d.m, d.d+i) }

func (d Date) String() string { return d.Time().Format(DateFormat) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
