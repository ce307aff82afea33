package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dErrors "assetdesk/pkg/domain-errors"
)

// DateLayout is the ISO-8601 calendar date layout used on the wire and in storage.
const DateLayout = "2006-01-02"

// Date is a calendar date with no time-of-day or zone. The zero value is the
// "no date" sentinel; use NullDate for optional fields on the wire.
//
// Invariants:
//   - the wrapped instant is always midnight UTC
//   - comparison is by calendar day only
type Date struct {
	t time.Time
}

// NewDate builds a Date from calendar fields. Out-of-range fields normalize the
// way time.Date does (e.g. Feb 30 becomes Mar 2); use AddMonths for clamping.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as observed in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses "YYYY-MM-DD". A longer timestamp-shaped value
// ("2025-01-31T00:00:00Z", "2025-01-31 10:00:00") is truncated to its date part.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) && (s[len(DateLayout)] == 'T' || s[len(DateLayout)] == ' ') {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", s))
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals; it panics on malformed input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) Year() int { return d.t.Year() }

func (d Date) Month() time.Month { return d.t.Month() }

func (d Date) Day() int { return d.t.Day() }

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	return d.t.Format(DateLayout)
}

// AddDays returns the date n days later (earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// AddMonths advances the date by n calendar months. The day of month is kept
// when the target month has it and clamped to the month's last day otherwise,
// so 2025-01-31 + 1 month is 2025-02-28.
func (d Date) AddMonths(n int) Date {
	y, m, day := d.t.Date()
	months := int(m) - 1 + n
	y += months / 12
	mi := months % 12
	if mi < 0 {
		mi += 12
		y--
	}
	target := time.Month(mi + 1)
	if last := daysIn(y, target); day > last {
		day = last
	}
	return NewDate(y, target, day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

func (d Date) After(o Date) bool { return d.t.After(o.t) }

func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "date must be a YYYY-MM-DD string")
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// NullDate is an optional Date. JSON null and "" decode to an invalid NullDate;
// an invalid NullDate encodes as null and stores as SQL NULL.
type NullDate struct {
	Date  Date
	Valid bool
}

// Some wraps a present date.
func Some(d Date) NullDate { return NullDate{Date: d, Valid: true} }

// Ptr returns the date or nil.
func (n NullDate) Ptr() *Date {
	if !n.Valid {
		return nil
	}
	d := n.Date
	return &d
}

func (n NullDate) String() string {
	if !n.Valid {
		return ""
	}
	return n.Date.String()
}

func (n NullDate) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return n.Date.MarshalJSON()
}

func (n *NullDate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*n = NullDate{}
		return nil
	}
	var d Date
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*n = Some(d)
	return nil
}

// Scan implements sql.Scanner for DATE columns.
func (n *NullDate) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = NullDate{}
		return nil
	case time.Time:
		// lib/pq hands DATE columns back as midnight in UTC; DateOf keeps the
		// calendar fields regardless of the location attached.
		*n = Some(DateOf(v))
		return nil
	case []byte:
		return n.scanString(string(v))
	case string:
		return n.scanString(v)
	default:
		return fmt.Errorf("domain: cannot scan %T into NullDate", src)
	}
}

func (n *NullDate) scanString(s string) error {
	d, err := ParseDate(s)
	if err != nil {
		return err
	}
	*n = Some(d)
	return nil
}

// Value implements driver.Valuer.
func (n NullDate) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Date.String(), nil
}
