package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetdesk/internal/platform/metrics"
	"assetdesk/internal/platform/middleware"
	"assetdesk/internal/renewal/models"
	"assetdesk/internal/renewal/service"
	"assetdesk/internal/renewal/watcher"
	"assetdesk/pkg/domain"
	dErrors "assetdesk/pkg/domain-errors"
	"assetdesk/pkg/platform/httputil"
)

// Service defines the renewal operations the handler needs.
type Service interface {
	List(ctx context.Context, q string) ([]*models.ComplianceRecord, error)
	Get(ctx context.Context, id domain.RenewalID) (*models.ComplianceRecord, error)
	Create(ctx context.Context, draft models.Draft) (*models.ComplianceRecord, error)
	Update(ctx context.Context, id domain.RenewalID, draft models.Draft) (*models.ComplianceRecord, error)
	Delete(ctx context.Context, id domain.RenewalID) error
	DueSoon(ctx context.Context) (*service.DueSoonResult, error)
	Today(ctx context.Context) domain.Date
}

// Alerts serves the watcher's latest snapshot.
type Alerts interface {
	Snapshot(ctx context.Context) (watcher.Snapshot, error)
}

// Handler wires renewal endpoints to the renewal service.
type Handler struct {
	service Service
	alerts  Alerts
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a renewal handler with its dependencies.
func New(service Service, alerts Alerts, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		service: service,
		alerts:  alerts,
		logger:  logger,
		metrics: metrics,
	}
}

// Register mounts the /renewals routes on the router. Request deadlines come
// from the root router.
func (h *Handler) Register(r chi.Router) {
	renewalRouter := chi.NewRouter()
	renewalRouter.Use(middleware.Recovery(h.logger))
	renewalRouter.Use(middleware.RequestID)
	renewalRouter.Use(middleware.Logger(h.logger))
	renewalRouter.Use(middleware.ContentTypeJSON)
	renewalRouter.Use(middleware.LatencyMiddleware(h.metrics))

	renewalRouter.Get("/", h.HandleList)
	renewalRouter.Post("/", h.HandleCreate)
	renewalRouter.Get("/due-soon", h.HandleDueSoon)
	renewalRouter.Get("/alerts", h.HandleAlerts)
	renewalRouter.Get("/{id}", h.HandleGet)
	renewalRouter.Put("/{id}", h.HandleUpdate)
	renewalRouter.Delete("/{id}", h.HandleDelete)

	r.Mount("/renewals", renewalRouter)
}

// HandleList handles GET /renewals with optional ?q= search.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	records, err := h.service.List(ctx, r.URL.Query().Get("q"))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list renewals",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponses(records, h.service.Today(ctx)))
}

// HandleGet handles GET /renewals/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	record, err := h.service.Get(ctx, id)
	if err != nil {
		h.logServiceError(ctx, "failed to get renewal", requestID, id, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record, h.service.Today(ctx)))
}

// HandleCreate handles POST /renewals.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.Create(ctx, req.Draft())
	if err != nil {
		h.logServiceError(ctx, "failed to create renewal", requestID, 0, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(record, h.service.Today(ctx)))
}

// HandleUpdate handles PUT /renewals/{id}. The body replaces the record.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.Update(ctx, id, req.Draft())
	if err != nil {
		h.logServiceError(ctx, "failed to update renewal", requestID, id, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record, h.service.Today(ctx)))
}

// HandleDelete handles DELETE /renewals/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(ctx, id); err != nil {
		h.logServiceError(ctx, "failed to delete renewal", requestID, id, err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDueSoon handles GET /renewals/due-soon. It classifies on every call.
func (h *Handler) HandleDueSoon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	result, err := h.service.DueSoon(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to classify due-soon renewals",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DueSoonResponse{
		Count: len(result.Items),
		Today: result.Today,
		Items: toRecordResponses(result.Items, result.Today),
	})
}

// HandleAlerts handles GET /renewals/alerts from the watcher snapshot. A
// snapshot store outage falls back to the local copy.
func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if h.alerts == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "due-soon alerts are not running"))
		return
	}
	snap, err := h.alerts.Snapshot(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "serving local due-soon snapshot",
			"request_id", requestID,
			"error", err,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, toAlertsResponse(snap))
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (domain.RenewalID, bool) {
	id, err := domain.ParseRenewalID(chi.URLParam(r, "id"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "invalid renewal id",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return 0, false
	}
	return id, true
}

// logServiceError logs client mistakes at warn and everything else at error.
func (h *Handler) logServiceError(ctx context.Context, msg, requestID string, id domain.RenewalID, err error) {
	args := []any{"request_id", requestID, "error", err}
	if !id.IsNil() {
		args = append(args, "renewal_id", id.String())
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeNotFound, dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		h.logger.WarnContext(ctx, msg, args...)
	default:
		h.logger.ErrorContext(ctx, msg, args...)
	}
}
