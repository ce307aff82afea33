// Package audit records who changed which renewal and when. Events are
// transport-agnostic so stores and sinks can fan out.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers changes to the obligation register itself.
	CategoryCompliance EventCategory = "compliance"
	// CategoryOperations covers derived, routine signals such as alerts.
	CategoryOperations EventCategory = "operations"
)

type AuditEvent string

const (
	EventRenewalCreated AuditEvent = "renewal_created"
	EventRenewalUpdated AuditEvent = "renewal_updated"
	EventRenewalDeleted AuditEvent = "renewal_deleted"
	EventRenewalDueSoon AuditEvent = "renewal_due_soon"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventRenewalCreated: CategoryCompliance,
	EventRenewalUpdated: CategoryCompliance,
	EventRenewalDeleted: CategoryCompliance,
	EventRenewalDueSoon: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Category  EventCategory     `json:"category"`
	Timestamp time.Time         `json:"timestamp"`
	Action    AuditEvent        `json:"action"`
	Subject   string            `json:"subject"`
	RequestID string            `json:"request_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
