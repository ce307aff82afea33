package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"assetdesk/internal/renewal/duedate"
	"assetdesk/internal/renewal/metrics"
	"assetdesk/internal/renewal/models"
	"assetdesk/pkg/domain"
	dErrors "assetdesk/pkg/domain-errors"
	audit "assetdesk/pkg/platform/audit"
	"assetdesk/pkg/platform/sentinel"
	txcontext "assetdesk/pkg/platform/tx"
	"assetdesk/pkg/requestcontext"
)

// Store persists compliance records.
type Store interface {
	Create(ctx context.Context, r *models.ComplianceRecord) error
	FindByID(ctx context.Context, id domain.RenewalID) (*models.ComplianceRecord, error)
	List(ctx context.Context) ([]*models.ComplianceRecord, error)
	Execute(ctx context.Context, id domain.RenewalID, mutate func(*models.ComplianceRecord) error) (*models.ComplianceRecord, error)
	Delete(ctx context.Context, id domain.RenewalID) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns the renewal register: it validates drafts, decides the stored
// next due date at save time and classifies due-soon records.
type Service struct {
	store          Store
	tx             txcontext.Runner
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	window         duedate.Window
	location       *time.Location
	tracer         trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTxRunner runs each write inside a transaction so the record change and
// its audit outbox row commit together.
func WithTxRunner(r txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = r
	}
}

func WithWindow(w duedate.Window) Option {
	return func(s *Service) {
		s.window = w
	}
}

// WithLocation sets the time zone that decides which calendar day is "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("renewal store is required")
	}
	s := &Service{
		store:    store,
		tx:       txcontext.NoopRunner{},
		logger:   slog.Default(),
		window:   duedate.DefaultWindow,
		location: time.Local,
		tracer:   otel.Tracer("assetdesk/internal/renewal"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Window returns the configured due-soon window.
func (s *Service) Window() duedate.Window { return s.window }

// Today is the calendar date of the request-scoped "now" in the configured
// time zone.
func (s *Service) Today(ctx context.Context) domain.Date {
	return domain.DateOf(requestcontext.Now(ctx).In(s.location))
}

// List returns every record ordered by id, filtered by q when non-empty.
func (s *Service) List(ctx context.Context, q string) ([]*models.ComplianceRecord, error) {
	ctx, span := s.tracer.Start(ctx, "renewal.List")
	defer span.End()

	records, err := s.store.List(ctx)
	if err != nil {
		return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list renewals"))
	}
	if q == "" {
		return records, nil
	}
	out := make([]*models.ComplianceRecord, 0, len(records))
	for _, r := range records {
		if r.Matches(q) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id domain.RenewalID) (*models.ComplianceRecord, error) {
	ctx, span := s.tracer.Start(ctx, "renewal.Get", trace.WithAttributes(attribute.Int64("renewal.id", int64(id))))
	defer span.End()

	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.fail(span, translateStoreError(err, "failed to load renewal"))
	}
	return r, nil
}

// Create validates the draft, decides next_due_date and stores the record.
func (s *Service) Create(ctx context.Context, draft models.Draft) (*models.ComplianceRecord, error) {
	ctx, span := s.tracer.Start(ctx, "renewal.Create")
	defer span.End()

	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, s.fail(span, err)
	}
	nextDue, source := s.decideNextDue(draft)

	record, err := models.NewComplianceRecord(draft, nextDue, requestcontext.Now(ctx))
	if err != nil {
		return nil, s.fail(span, err)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create renewal")
		}
		s.logAudit(ctx, audit.EventRenewalCreated, record, "next_due_source", source)
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	span.SetAttributes(attribute.Int64("renewal.id", int64(record.ID)))
	if s.metrics != nil {
		s.metrics.RecordsCreated.Inc()
		s.metrics.ObserveNextDue(source)
	}
	return record, nil
}

// Update replaces every editable field of the record and re-decides
// next_due_date. A failed update leaves the stored record unchanged.
func (s *Service) Update(ctx context.Context, id domain.RenewalID, draft models.Draft) (*models.ComplianceRecord, error) {
	ctx, span := s.tracer.Start(ctx, "renewal.Update", trace.WithAttributes(attribute.Int64("renewal.id", int64(id))))
	defer span.End()

	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, s.fail(span, err)
	}
	nextDue, source := s.decideNextDue(draft)
	now := requestcontext.Now(ctx)

	var updated *models.ComplianceRecord
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.store.Execute(ctx, id, func(r *models.ComplianceRecord) error {
			return r.Replace(draft, nextDue, now)
		})
		if err != nil {
			var de *dErrors.Error
			if errors.As(err, &de) {
				return err
			}
			return translateStoreError(err, "failed to update renewal")
		}
		updated = r
		s.logAudit(ctx, audit.EventRenewalUpdated, r, "next_due_source", source)
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	if s.metrics != nil {
		s.metrics.RecordsUpdated.Inc()
		s.metrics.ObserveNextDue(source)
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id domain.RenewalID) error {
	ctx, span := s.tracer.Start(ctx, "renewal.Delete", trace.WithAttributes(attribute.Int64("renewal.id", int64(id))))
	defer span.End()

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, id); err != nil {
			return translateStoreError(err, "failed to delete renewal")
		}
		s.logAudit(ctx, audit.EventRenewalDeleted, &models.ComplianceRecord{ID: id})
		return nil
	})
	if err != nil {
		return s.fail(span, err)
	}
	if s.metrics != nil {
		s.metrics.RecordsDeleted.Inc()
	}
	return nil
}

// DueSoonResult is one classification of the register.
type DueSoonResult struct {
	Today domain.Date
	Items []*models.ComplianceRecord
}

// DueSoon classifies the current register against today's window. It has no
// side effects on the records.
func (s *Service) DueSoon(ctx context.Context) (*DueSoonResult, error) {
	ctx, span := s.tracer.Start(ctx, "renewal.DueSoon")
	defer span.End()

	records, err := s.store.List(ctx)
	if err != nil {
		return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list renewals"))
	}
	today := s.Today(ctx)
	items := duedate.DueSoon(records, today, s.window)
	span.SetAttributes(attribute.Int("renewal.due_soon", len(items)))
	return &DueSoonResult{Today: today, Items: items}, nil
}

const (
	nextDueExplicit     = "explicit"
	nextDueDerived      = "derived"
	nextDueUndetermined = "undetermined"
)

func (s *Service) decideNextDue(d models.Draft) (domain.NullDate, string) {
	if d.NextDueDate.Valid {
		return d.NextDueDate, nextDueExplicit
	}
	next := duedate.NextDue(duedate.CandidateFrom(d))
	if !next.Valid {
		return next, nextDueUndetermined
	}
	return next, nextDueDerived
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, r *models.ComplianceRecord, attributes ...any) {
	subject := strconv.FormatInt(int64(r.ID), 10)
	requestID := requestcontext.RequestID(ctx)
	args := append(attributes, "renewal_id", subject, "event", string(event), "log_type", "audit")
	if requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, string(event), args...)

	if s.auditPublisher == nil {
		return
	}
	details := map[string]string{}
	if r.Particulars != "" {
		details["compliance_particulars"] = r.Particulars
	}
	if r.NextDueDate.Valid {
		details["next_due_date"] = r.NextDueDate.String()
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:    event,
		Subject:   subject,
		RequestID: requestID,
		ClientIP:  requestcontext.ClientIP(ctx),
		Details:   details,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"event", string(event),
			"renewal_id", subject,
			"error", err,
		)
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	return err
}

func translateStoreError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "renewal not found")
	}
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "renewal store unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
