package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"assetdesk/pkg/domain"
	dErrors "assetdesk/pkg/domain-errors"
)

// MaxParticularsLength bounds the free-text description of an obligation.
const MaxParticularsLength = 1024

// Frequency is the recurrence cadence label of an obligation. Labels are
// stored as entered; recognized labels drive next-due derivation.
type Frequency string

const (
	FrequencyMonthly    Frequency = "Monthly"
	FrequencyQuarterly  Frequency = "Quarterly"
	FrequencyHalfYearly Frequency = "Half-Yearly"
	FrequencyYearly     Frequency = "Yearly"
)

func (f Frequency) String() string { return string(f) }

// MarshalJSON writes an absent label as null, the way clients send it.
func (f Frequency) MarshalJSON() ([]byte, error) {
	if f == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(f))
}

// NotificationStatus records whether the current cycle has been acted on.
// Only explicit edits change it.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationDone    NotificationStatus = "done"
)

// ParseNotificationStatus accepts pending/done in any case; empty means pending.
func ParseNotificationStatus(s string) (NotificationStatus, error) {
	switch NotificationStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "", NotificationPending:
		return NotificationPending, nil
	case NotificationDone:
		return NotificationDone, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "notification_status must be pending or done")
	}
}

// ComplianceRecord is one statutory or contractual obligation with a
// recurring due date.
//
// Invariants:
//   - ID is assigned by the store and never changes
//   - Particulars is non-empty
//   - ActualCost, when present, is non-negative
//   - NextDueDate is a stored value, set at save time only
type ComplianceRecord struct {
	ID                   domain.RenewalID   `json:"id"`
	SN                   *int               `json:"sn"`
	Particulars          string             `json:"compliance_particulars"`
	LastYearDetails      *string            `json:"last_year_details"`
	AuthorityProvider    *string            `json:"authority_provider"`
	AuthorityAddress     *string            `json:"auth_address"`
	LawOrStatute         *string            `json:"law_statute"`
	LastDueDate          domain.NullDate    `json:"last_due_date"`
	ActualComplianceDate domain.NullDate    `json:"actual_date_of_compliences"`
	ActualCost           *float64           `json:"actual_cost"`
	Frequency            Frequency          `json:"frequency"`
	NextDueDate          domain.NullDate    `json:"next_due_date"`
	NotificationStatus   NotificationStatus `json:"notification_status"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Draft is user input for a create or full update. NextDueDate here is the
// explicit override; the stored value is decided by the caller.
type Draft struct {
	SN                   *int
	Particulars          string
	LastYearDetails      *string
	AuthorityProvider    *string
	AuthorityAddress     *string
	LawOrStatute         *string
	LastDueDate          domain.NullDate
	ActualComplianceDate domain.NullDate
	ActualCost           *float64
	Frequency            Frequency
	NextDueDate          domain.NullDate
	NotificationStatus   NotificationStatus
}

// Normalize trims text, drops blank optional strings and defaults the
// notification status. An absent frequency stays empty.
func (d *Draft) Normalize() {
	d.Particulars = strings.TrimSpace(d.Particulars)
	d.LastYearDetails = trimOptional(d.LastYearDetails)
	d.AuthorityProvider = trimOptional(d.AuthorityProvider)
	d.AuthorityAddress = trimOptional(d.AuthorityAddress)
	d.LawOrStatute = trimOptional(d.LawOrStatute)
	d.Frequency = Frequency(strings.TrimSpace(string(d.Frequency)))
	if d.NotificationStatus == "" {
		d.NotificationStatus = NotificationPending
	}
}

// Validate enforces the record invariants that depend only on input.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Particulars) == "" {
		return dErrors.New(dErrors.CodeValidation, "compliance_particulars is required")
	}
	if len(d.Particulars) > MaxParticularsLength {
		return dErrors.New(dErrors.CodeValidation, "compliance_particulars must be 1024 characters or less")
	}
	if d.ActualCost != nil && *d.ActualCost < 0 {
		return dErrors.New(dErrors.CodeValidation, "actual_cost must not be negative")
	}
	if d.SN != nil && *d.SN < 0 {
		return dErrors.New(dErrors.CodeValidation, "sn must not be negative")
	}
	if _, err := ParseNotificationStatus(string(d.NotificationStatus)); err != nil {
		return err
	}
	return nil
}

// NewComplianceRecord builds an unsaved record from a validated draft and the
// next due date decided for it.
func NewComplianceRecord(d Draft, nextDue domain.NullDate, now time.Time) (*ComplianceRecord, error) {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	r := &ComplianceRecord{CreatedAt: now}
	r.apply(d, nextDue, now)
	return r, nil
}

// Replace overwrites every user-editable field. ID and CreatedAt survive.
func (r *ComplianceRecord) Replace(d Draft, nextDue domain.NullDate, now time.Time) error {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return err
	}
	r.apply(d, nextDue, now)
	return nil
}

func (r *ComplianceRecord) apply(d Draft, nextDue domain.NullDate, now time.Time) {
	status, _ := ParseNotificationStatus(string(d.NotificationStatus))
	r.SN = d.SN
	r.Particulars = d.Particulars
	r.LastYearDetails = d.LastYearDetails
	r.AuthorityProvider = d.AuthorityProvider
	r.AuthorityAddress = d.AuthorityAddress
	r.LawOrStatute = d.LawOrStatute
	r.LastDueDate = d.LastDueDate
	r.ActualComplianceDate = d.ActualComplianceDate
	r.ActualCost = d.ActualCost
	r.Frequency = d.Frequency
	r.NextDueDate = nextDue
	r.NotificationStatus = status
	r.UpdatedAt = now
}

// Matches reports whether the record contains q (case-insensitive) in its
// serial number, particulars, authority provider or law/statute.
func (r *ComplianceRecord) Matches(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	var sn string
	if r.SN != nil {
		sn = strconv.Itoa(*r.SN)
	}
	for _, field := range []string{sn, r.Particulars, deref(r.AuthorityProvider), deref(r.LawOrStatute)} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
