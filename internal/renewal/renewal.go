// Package renewal exposes the compliance renewal register: records with a
// recurring due date, the next-due calculation applied at save time and the
// due-soon classification that feeds alerts.
package renewal

import (
	"log/slog"

	"assetdesk/internal/platform/metrics"
	"assetdesk/internal/renewal/handler"
	"assetdesk/internal/renewal/service"
	"assetdesk/internal/renewal/watcher"
)

// Service exposes renewal CRUD and classification.
type Service = service.Service

// Handler wires HTTP endpoints to the renewal service.
type Handler = handler.Handler

// Watcher keeps the due-soon snapshot current.
type Watcher = watcher.Watcher

// NewService constructs the renewal service over store.
func NewService(store service.Store, opts ...service.Option) (*Service, error) {
	return service.New(store, opts...)
}

// NewWatcher constructs the due-soon watcher for s.
func NewWatcher(s *Service, snapshots watcher.SnapshotStore, opts ...watcher.Option) (*Watcher, error) {
	return watcher.New(s, snapshots, opts...)
}

// NewHandler constructs the HTTP handler for /renewals.
func NewHandler(s *Service, w *Watcher, logger *slog.Logger, m *metrics.Metrics) *Handler {
	var alerts handler.Alerts
	if w != nil {
		alerts = w
	}
	return handler.New(s, alerts, logger, m)
}
