package handler

import (
	"time"

	"assetdesk/internal/renewal/duedate"
	"assetdesk/internal/renewal/models"
	"assetdesk/internal/renewal/watcher"
	"assetdesk/pkg/domain"
)

// RecordResponse is a stored record plus its overdue flag for today.
type RecordResponse struct {
	models.ComplianceRecord
	IsOverdue bool `json:"is_overdue"`
}

func toRecordResponse(r *models.ComplianceRecord, today domain.Date) RecordResponse {
	return RecordResponse{
		ComplianceRecord: *r,
		IsOverdue:        duedate.Overdue(r.NextDueDate, today),
	}
}

func toRecordResponses(records []*models.ComplianceRecord, today domain.Date) []RecordResponse {
	out := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toRecordResponse(r, today))
	}
	return out
}

// DueSoonResponse is the alert banner payload.
type DueSoonResponse struct {
	Count int              `json:"count"`
	Today domain.Date      `json:"today"`
	Items []RecordResponse `json:"items"`
}

// AlertsResponse is the badge and dropdown payload. RefreshedAt is null until
// the first successful refresh.
type AlertsResponse struct {
	Count       int             `json:"count"`
	Items       []watcher.Entry `json:"items"`
	RefreshedAt *time.Time      `json:"refreshed_at"`
	LastError   *string         `json:"last_error"`
	Generation  uint64          `json:"generation"`
}

func toAlertsResponse(snap watcher.Snapshot) AlertsResponse {
	resp := AlertsResponse{
		Count:      snap.Count(),
		Items:      snap.Items,
		Generation: snap.Generation,
	}
	if resp.Items == nil {
		resp.Items = []watcher.Entry{}
	}
	if !snap.RefreshedAt.IsZero() {
		t := snap.RefreshedAt
		resp.RefreshedAt = &t
	}
	if snap.LastError != "" {
		msg := snap.LastError
		resp.LastError = &msg
	}
	return resp
}
