// Package duedate computes when a compliance obligation is next due and which
// obligations are due soon. Everything here is a pure function of its inputs;
// "today" is always passed in by the caller.
package duedate

import (
	"cmp"
	"slices"
	"strings"

	"assetdesk/internal/renewal/models"
	"assetdesk/pkg/domain"
)

// IntervalMonths resolves a frequency label to the number of months in one
// cycle. Matching ignores case and surrounding whitespace. The boolean is false
// for labels with no known interval, in which case callers skip derivation.
func IntervalMonths(frequency string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(frequency)) {
	case "monthly":
		return 1, true
	case "quarterly":
		return 3, true
	case "half-yearly", "half yearly":
		return 6, true
	case "yearly", "annual":
		return 12, true
	default:
		return 0, false
	}
}

// Candidate is the subset of a record the calculator reads.
type Candidate struct {
	Frequency            string
	LastDueDate          domain.NullDate
	ActualComplianceDate domain.NullDate
	NextDueDate          domain.NullDate
}

// CandidateFrom extracts the calculator inputs from a draft.
func CandidateFrom(d models.Draft) Candidate {
	return Candidate{
		Frequency:            string(d.Frequency),
		LastDueDate:          d.LastDueDate,
		ActualComplianceDate: d.ActualComplianceDate,
		NextDueDate:          d.NextDueDate,
	}
}

// NextDue decides the next due date for a record being saved.
//
//  1. An explicit NextDueDate always wins.
//  2. Otherwise the base is ActualComplianceDate, falling back to LastDueDate,
//     advanced by the frequency's interval with month-end clamping.
//  3. No interval or no base date leaves the result undetermined (invalid).
func NextDue(c Candidate) domain.NullDate {
	if c.NextDueDate.Valid {
		return c.NextDueDate
	}
	months, ok := IntervalMonths(c.Frequency)
	if !ok {
		return domain.NullDate{}
	}
	base := c.ActualComplianceDate
	if !base.Valid {
		base = c.LastDueDate
	}
	if !base.Valid {
		return domain.NullDate{}
	}
	return domain.Some(base.Date.AddMonths(months))
}

// Window is the rolling notification window around "today".
type Window struct {
	// LookaheadMonths is how far ahead due dates count as due soon.
	LookaheadMonths int
	// GraceDays keeps recently passed due dates in the window.
	GraceDays int
}

// DefaultWindow is a two-month look-ahead with one day of past grace.
var DefaultWindow = Window{LookaheadMonths: 2, GraceDays: 1}

// Bounds returns the half-open range [from, until) of due dates in the window.
func (w Window) Bounds(today domain.Date) (from, until domain.Date) {
	from = today.AddDays(-w.GraceDays)
	until = today.AddMonths(w.LookaheadMonths).AddDays(w.GraceDays)
	return from, until
}

// Contains reports whether a due date falls inside the window for today.
func (w Window) Contains(due, today domain.Date) bool {
	from, until := w.Bounds(today)
	return !due.Before(from) && due.Before(until)
}

// DueSoon returns the records whose NextDueDate lies in the window, ordered by
// due date then ID. Records without a next due date are never due soon. The
// input slice is not modified.
func DueSoon(records []*models.ComplianceRecord, today domain.Date, w Window) []*models.ComplianceRecord {
	out := make([]*models.ComplianceRecord, 0)
	for _, r := range records {
		if r == nil || !r.NextDueDate.Valid {
			continue
		}
		if w.Contains(r.NextDueDate.Date, today) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b *models.ComplianceRecord) int {
		if c := a.NextDueDate.Date.Compare(b.NextDueDate.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Overdue reports whether a due date is strictly before today.
func Overdue(due domain.NullDate, today domain.Date) bool {
	return due.Valid && due.Date.Before(today)
}
