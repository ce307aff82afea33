// Package watcher keeps the due-soon snapshot current. It re-classifies the
// register on a fixed interval, publishes the result to a SnapshotStore and
// announces obligations that newly entered the window.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"assetdesk/internal/renewal/metrics"
	"assetdesk/internal/renewal/service"
	"assetdesk/pkg/domain"
	"assetdesk/pkg/platform/audit"
	"assetdesk/pkg/platform/sentinel"
	"assetdesk/pkg/requestcontext"
)

const (
	DefaultInterval       = 20 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
)

// Source classifies the register.
type Source interface {
	DueSoon(ctx context.Context) (*service.DueSoonResult, error)
}

// AuditPublisher records due-soon signals.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Watcher owns the refresh loop. Refreshes never overlap.
type Watcher struct {
	source         Source
	snapshots      SnapshotStore
	notifier       Notifier
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
	interval       time.Duration
	timeout        time.Duration
	now            func() time.Time

	mu         sync.Mutex
	generation uint64
	last       Snapshot
}

type Option func(*Watcher)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

func WithNotifier(n Notifier) Option {
	return func(w *Watcher) {
		w.notifier = n
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(w *Watcher) {
		w.auditPublisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}

// WithInterval sets the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithRefreshTimeout bounds a single refresh. Non-positive values are ignored.
func WithRefreshTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithClock replaces time.Now for refresh timestamps and "today".
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

func New(source Source, snapshots SnapshotStore, opts ...Option) (*Watcher, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if snapshots == nil {
		return nil, errors.New("snapshot store is required")
	}
	w := &Watcher{
		source:    source,
		snapshots: snapshots,
		logger:    slog.Default(),
		interval:  DefaultInterval,
		timeout:   DefaultRefreshTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.notifier == nil {
		w.notifier = NewLogNotifier(w.logger)
	}
	return w, nil
}

// Run refreshes once immediately and then on every tick until ctx is done.
// Refresh failures are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "due-soon watcher started", "interval", w.interval.String())
	_ = w.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "due-soon watcher stopped")
			return nil
		case <-ticker.C:
			_ = w.Refresh(ctx)
		}
	}
}

// Refresh runs one classification and publishes the snapshot. On failure the
// previous items are kept and LastError is set.
func (w *Watcher) Refresh(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	now := w.now()

	prior, err := w.snapshots.Load(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to load due-soon snapshot, using local copy", "error", err)
		prior = w.last
	}
	gen := max(w.generation, prior.Generation) + 1

	rctx, cancel := context.WithTimeout(requestcontext.WithTime(ctx, now), w.timeout)
	defer cancel()

	result, refreshErr := w.source.DueSoon(rctx)
	var snap Snapshot
	if refreshErr != nil {
		snap = cloneSnapshot(prior)
		snap.Generation = gen
		snap.LastError = refreshErr.Error()
	} else {
		snap = Snapshot{
			Generation:  gen,
			Today:       result.Today,
			Items:       entriesFrom(result.Items),
			RefreshedAt: now,
		}
	}
	w.observe(start, snap, refreshErr)

	if err := w.snapshots.Save(ctx, snap); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			// another instance published a newer snapshot
			w.logger.DebugContext(ctx, "discarding stale due-soon snapshot", "generation", gen)
			w.generation = gen
			return nil
		}
		w.logger.ErrorContext(ctx, "failed to save due-soon snapshot", "generation", gen, "error", err)
		w.generation, w.last = gen, snap
		return fmt.Errorf("save snapshot: %w", err)
	}
	w.generation, w.last = gen, snap

	if refreshErr != nil {
		w.logger.ErrorContext(ctx, "due-soon refresh failed, keeping previous items",
			"generation", gen,
			"items", snap.Count(),
			"error", refreshErr,
		)
		return refreshErr
	}

	w.logger.DebugContext(ctx, "due-soon refreshed", "generation", gen, "items", snap.Count())
	if fresh := newEntries(prior.Items, snap.Items); len(fresh) > 0 {
		w.announce(ctx, snap.Today, fresh)
	}
	return nil
}

// Snapshot returns the latest published snapshot. When the store cannot be
// read the local copy is returned together with the error.
func (w *Watcher) Snapshot(ctx context.Context) (Snapshot, error) {
	snap, err := w.snapshots.Load(ctx)
	if err != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		return cloneSnapshot(w.last), err
	}
	return snap, nil
}

func (w *Watcher) announce(ctx context.Context, today domain.Date, fresh []Entry) {
	outcome := "sent"
	if err := w.notifier.Notify(ctx, today, fresh); err != nil {
		outcome = "failed"
		w.logger.WarnContext(ctx, "failed to send due-soon notifications",
			"entries", len(fresh),
			"error", err,
		)
	}
	if w.metrics != nil {
		w.metrics.NotificationsOut.WithLabelValues(outcome).Add(float64(len(fresh)))
	}

	if w.auditPublisher == nil {
		return
	}
	for _, e := range fresh {
		subject := strconv.FormatInt(int64(e.ID), 10)
		if err := w.auditPublisher.Emit(ctx, audit.Event{
			Action:  audit.EventRenewalDueSoon,
			Subject: subject,
			Details: map[string]string{
				"compliance_particulars": e.Particulars,
				"next_due_date":          e.NextDueDate.String(),
				"today":                  today.String(),
			},
		}); err != nil {
			w.logger.WarnContext(ctx, "failed to emit audit event",
				"event", string(audit.EventRenewalDueSoon),
				"renewal_id", subject,
				"error", err,
			)
		}
	}
}

func (w *Watcher) observe(start time.Time, snap Snapshot, err error) {
	if w.metrics == nil {
		return
	}
	w.metrics.ObserveRefresh(start, snap.Count(), err)
}

// newEntries returns entries of next that were not in prior. An entry whose
// due date moved counts as new: it is a new cycle.
func newEntries(prior, next []Entry) []Entry {
	seen := make(map[entryKey]struct{}, len(prior))
	for _, e := range prior {
		seen[keyOf(e)] = struct{}{}
	}
	var fresh []Entry
	for _, e := range next {
		if _, ok := seen[keyOf(e)]; !ok {
			fresh = append(fresh, e)
		}
	}
	return fresh
}

type entryKey struct {
	id  domain.RenewalID
	due string
}

func keyOf(e Entry) entryKey {
	return entryKey{id: e.ID, due: e.NextDueDate.String()}
}
