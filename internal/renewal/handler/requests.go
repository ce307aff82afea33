package handler

import (
	"strings"

	"assetdesk/internal/renewal/models"
	"assetdesk/pkg/domain"
	dErrors "assetdesk/pkg/domain-errors"
)

// RecordRequest is the body of POST /renewals and PUT /renewals/{id}.
// Unknown fields, including id and timestamps, are ignored.
type RecordRequest struct {
	SN                   *int            `json:"sn"`
	Particulars          string          `json:"compliance_particulars"`
	LastYearDetails      *string         `json:"last_year_details"`
	AuthorityProvider    *string         `json:"authority_provider"`
	AuthorityAddress     *string         `json:"auth_address"`
	LawOrStatute         *string         `json:"law_statute"`
	LastDueDate          domain.NullDate `json:"last_due_date"`
	ActualComplianceDate domain.NullDate `json:"actual_date_of_compliences"`
	ActualCost           *float64        `json:"actual_cost"`
	Frequency            string          `json:"frequency"`
	NextDueDate          domain.NullDate `json:"next_due_date"`
	NotificationStatus   string          `json:"notification_status"`

	// Parsed values (populated by Validate)
	parsedStatus models.NotificationStatus
}

// Normalize trims free text.
func (r *RecordRequest) Normalize() {
	r.Particulars = strings.TrimSpace(r.Particulars)
	r.Frequency = strings.TrimSpace(r.Frequency)
	r.NotificationStatus = strings.TrimSpace(r.NotificationStatus)
}

// Validate checks field-level rules and parses the notification status.
// Implements httputil.Validatable.
func (r *RecordRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	// Size validation (fail fast)
	if len(r.Particulars) > models.MaxParticularsLength {
		return dErrors.New(dErrors.CodeValidation, "compliance_particulars must be 1024 characters or less")
	}
	if r.Particulars == "" {
		return dErrors.New(dErrors.CodeValidation, "compliance_particulars is required")
	}
	if r.ActualCost != nil && *r.ActualCost < 0 {
		return dErrors.New(dErrors.CodeValidation, "actual_cost must not be negative")
	}
	status, err := models.ParseNotificationStatus(r.NotificationStatus)
	if err != nil {
		return err
	}
	r.parsedStatus = status
	return nil
}

// Draft converts the validated request to service input.
func (r *RecordRequest) Draft() models.Draft {
	return models.Draft{
		SN:                   r.SN,
		Particulars:          r.Particulars,
		LastYearDetails:      r.LastYearDetails,
		AuthorityProvider:    r.AuthorityProvider,
		AuthorityAddress:     r.AuthorityAddress,
		LawOrStatute:         r.LawOrStatute,
		LastDueDate:          r.LastDueDate,
		ActualComplianceDate: r.ActualComplianceDate,
		ActualCost:           r.ActualCost,
		Frequency:            models.Frequency(r.Frequency),
		NextDueDate:          r.NextDueDate,
		NotificationStatus:   r.parsedStatus,
	}
}
