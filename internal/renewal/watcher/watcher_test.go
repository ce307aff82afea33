package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"assetdesk/internal/renewal/metrics"
	"assetdesk/internal/renewal/models"
	"assetdesk/internal/renewal/service"
	"assetdesk/internal/renewal/store"
	"assetdesk/pkg/domain"
	audit "assetdesk/pkg/platform/audit"
	auditmemory "assetdesk/pkg/platform/audit/store/memory"
	"assetdesk/pkg/platform/audit/publisher"
	"assetdesk/pkg/platform/sentinel"
	"assetdesk/pkg/requestcontext"
)

// =============================================================================
// Due-Soon Watcher Test Suite
// =============================================================================
// Justification for unit tests: the watcher is the only writer of the
// dropdown snapshot. These tests pin retain-on-error, generation ordering and
// the once-per-cycle notification contract against a real service over the
// in-memory store.

type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, _ domain.Date, entries []Entry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, append([]Entry(nil), entries...))
	return n.err
}

func (n *recordingNotifier) notified() []Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Entry
	for _, b := range n.batches {
		out = append(out, b...)
	}
	return out
}

type failingSource struct {
	err error
}

func (f failingSource) DueSoon(context.Context) (*service.DueSoonResult, error) {
	return nil, f.err
}

// switchableSource fails while err is set and delegates otherwise.
type switchableSource struct {
	mu  sync.Mutex
	err error
	src Source
}

func (s *switchableSource) set(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *switchableSource) DueSoon(ctx context.Context) (*service.DueSoonResult, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.src.DueSoon(ctx)
}

type WatcherSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	records   *store.InMemoryStore
	svc       *service.Service
	source    *switchableSource
	snapshots *MemorySnapshotStore
	notifier  *recordingNotifier
	auditLog  *auditmemory.InMemoryStore
	metrics   *metrics.Metrics
	watcher   *Watcher
}

func TestWatcherSuite(t *testing.T) {
	suite.Run(t, new(WatcherSuite))
}

func (s *WatcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	s.records = store.NewInMemoryStore()

	var err error
	s.svc, err = service.New(s.records, service.WithLocation(time.UTC))
	s.Require().NoError(err)

	s.source = &switchableSource{src: s.svc}
	s.snapshots = NewMemorySnapshotStore()
	s.notifier = &recordingNotifier{}
	s.auditLog = auditmemory.NewInMemoryStore()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())

	s.watcher, err = New(s.source, s.snapshots,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(s.notifier),
		WithAuditPublisher(publisher.NewPublisher(s.auditLog)),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *WatcherSuite) create(particulars, nextDue string) *models.ComplianceRecord {
	ctx := requestcontext.WithTime(s.ctx, s.now)
	r, err := s.svc.Create(ctx, models.Draft{
		Particulars: particulars,
		NextDueDate: domain.Some(domain.MustParseDate(nextDue)),
	})
	s.Require().NoError(err)
	return r
}

func (s *WatcherSuite) TestNew() {
	s.Run("nil source returns error", func() {
		_, err := New(nil, NewMemorySnapshotStore())
		s.ErrorContains(err, "source is required")
	})

	s.Run("nil snapshot store returns error", func() {
		_, err := New(s.svc, nil)
		s.ErrorContains(err, "snapshot store is required")
	})
}

func (s *WatcherSuite) TestRefresh() {
	s.Run("publishes due-soon entries in due order", func() {
		s.SetupTest()
		late := s.create("Fire NOC", "2025-03-01")
		early := s.create("Trade licence", "2025-01-20")
		s.create("Pollution consent", "2025-06-01")

		s.Require().NoError(s.watcher.Refresh(s.ctx))

		snap, err := s.watcher.Snapshot(s.ctx)
		s.Require().NoError(err)
		s.Equal(uint64(1), snap.Generation)
		s.Equal(domain.MustParseDate("2025-01-10"), snap.Today)
		s.Equal(s.now, snap.RefreshedAt)
		s.Empty(snap.LastError)
		s.Require().Len(snap.Items, 2)
		s.Equal(early.ID, snap.Items[0].ID)
		s.Equal("Trade licence", snap.Items[0].Particulars)
		s.Equal(late.ID, snap.Items[1].ID)
		s.Equal(2.0, promtest.ToFloat64(s.metrics.DueSoonCount))
	})

	s.Run("failure keeps previous items and records the error", func() {
		s.SetupTest()
		s.create("Trade licence", "2025-01-20")
		s.Require().NoError(s.watcher.Refresh(s.ctx))

		s.source.set(errors.New("database is down"))
		err := s.watcher.Refresh(s.ctx)
		s.Require().Error(err)

		snap, err := s.watcher.Snapshot(s.ctx)
		s.Require().NoError(err)
		s.Equal(uint64(2), snap.Generation)
		s.Len(snap.Items, 1)
		s.Equal("database is down", snap.LastError)
		s.Equal(s.now, snap.RefreshedAt, "refreshed_at keeps the last successful refresh")
		s.Equal(1.0, promtest.ToFloat64(s.metrics.RefreshFailures))
	})

	s.Run("next success clears the error", func() {
		s.SetupTest()
		s.create("Trade licence", "2025-01-20")
		s.source.set(errors.New("timeout"))
		s.Require().Error(s.watcher.Refresh(s.ctx))

		s.source.set(nil)
		s.Require().NoError(s.watcher.Refresh(s.ctx))

		snap, err := s.watcher.Snapshot(s.ctx)
		s.Require().NoError(err)
		s.Equal(uint64(2), snap.Generation)
		s.Empty(snap.LastError)
		s.Len(snap.Items, 1)
	})

	s.Run("continues the stored generation after restart", func() {
		s.SetupTest()
		s.Require().NoError(s.snapshots.Save(s.ctx, Snapshot{Generation: 41}))

		s.Require().NoError(s.watcher.Refresh(s.ctx))

		snap, err := s.watcher.Snapshot(s.ctx)
		s.Require().NoError(err)
		s.Equal(uint64(42), snap.Generation)
	})
}

func (s *WatcherSuite) TestNotifications() {
	s.Run("entries are announced once per cycle", func() {
		s.SetupTest()
		r := s.create("Trade licence", "2025-01-20")

		s.Require().NoError(s.watcher.Refresh(s.ctx))
		s.Require().NoError(s.watcher.Refresh(s.ctx))

		notified := s.notifier.notified()
		s.Require().Len(notified, 1)
		s.Equal(r.ID, notified[0].ID)

		events, err := s.auditLog.ListBySubject(s.ctx, r.ID.String())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(audit.EventRenewalDueSoon, events[0].Action)
		s.Equal("2025-01-20", events[0].Details["next_due_date"])
	})

	s.Run("a moved due date is a new cycle", func() {
		s.SetupTest()
		r := s.create("Trade licence", "2025-01-20")
		s.Require().NoError(s.watcher.Refresh(s.ctx))

		_, err := s.svc.Update(requestcontext.WithTime(s.ctx, s.now), r.ID, models.Draft{
			Particulars: "Trade licence",
			NextDueDate: domain.Some(domain.MustParseDate("2025-02-20")),
		})
		s.Require().NoError(err)
		s.Require().NoError(s.watcher.Refresh(s.ctx))

		s.Len(s.notifier.notified(), 2)
	})

	s.Run("items entering later are announced alone", func() {
		s.SetupTest()
		s.create("Trade licence", "2025-01-20")
		s.Require().NoError(s.watcher.Refresh(s.ctx))

		second := s.create("Fire NOC", "2025-02-01")
		s.Require().NoError(s.watcher.Refresh(s.ctx))

		s.Require().Len(s.notifier.batches, 2)
		s.Require().Len(s.notifier.batches[1], 1)
		s.Equal(second.ID, s.notifier.batches[1][0].ID)
	})

	s.Run("notifier failure does not fail the refresh", func() {
		s.SetupTest()
		s.notifier.err = errors.New("broker unreachable")
		s.create("Trade licence", "2025-01-20")

		s.Require().NoError(s.watcher.Refresh(s.ctx))
		s.Equal(1.0, promtest.ToFloat64(s.metrics.NotificationsOut.WithLabelValues("failed")))
	})

	s.Run("failed refresh announces nothing", func() {
		s.SetupTest()
		s.create("Trade licence", "2025-01-20")
		s.source.set(errors.New("boom"))

		s.Require().Error(s.watcher.Refresh(s.ctx))
		s.Empty(s.notifier.notified())
	})
}

func (s *WatcherSuite) TestRun() {
	s.Run("refreshes immediately and stops on cancel", func() {
		s.SetupTest()
		s.create("Trade licence", "2025-01-20")

		ctx, cancel := context.WithCancel(s.ctx)
		done := make(chan error, 1)
		go func() { done <- s.watcher.Run(ctx) }()

		s.Eventually(func() bool {
			snap, err := s.snapshots.Load(s.ctx)
			return err == nil && snap.Generation >= 1
		}, time.Second, 5*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			s.NoError(err)
		case <-time.After(time.Second):
			s.Fail("watcher did not stop after cancel")
		}
	})
}

func TestMemorySnapshotStore(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store loads zero snapshot", func(t *testing.T) {
		st := NewMemorySnapshotStore()
		snap, err := st.Load(ctx)
		require.NoError(t, err)
		assert.True(t, snap.IsZero())
		assert.Zero(t, snap.Count())
	})

	t.Run("older or equal generations are rejected", func(t *testing.T) {
		st := NewMemorySnapshotStore()
		require.NoError(t, st.Save(ctx, Snapshot{Generation: 5, LastError: "kept"}))

		assert.ErrorIs(t, st.Save(ctx, Snapshot{Generation: 4}), sentinel.ErrStale)
		assert.ErrorIs(t, st.Save(ctx, Snapshot{Generation: 5}), sentinel.ErrStale)

		snap, err := st.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), snap.Generation)
		assert.Equal(t, "kept", snap.LastError)
	})

	t.Run("loaded items are copies", func(t *testing.T) {
		st := NewMemorySnapshotStore()
		require.NoError(t, st.Save(ctx, Snapshot{Generation: 1, Items: []Entry{{ID: 1, Particulars: "a"}}}))

		snap, err := st.Load(ctx)
		require.NoError(t, err)
		snap.Items[0].Particulars = "changed"

		again, err := st.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", again.Items[0].Particulars)
	})
}

func TestWatcher_StaleSaveIsDiscarded(t *testing.T) {
	ctx := context.Background()
	snapshots := NewMemorySnapshotStore()
	notifier := &recordingNotifier{}
	w, err := New(failingSource{err: errors.New("unused")}, staleStore{snapshots}, WithNotifier(notifier),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	assert.NoError(t, w.Refresh(ctx), "a newer snapshot from another writer is not an error")
	assert.Empty(t, notifier.notified())
}

// staleStore behaves as if another writer always got there first.
type staleStore struct {
	*MemorySnapshotStore
}

func (staleStore) Save(context.Context, Snapshot) error { return sentinel.ErrStale }

func TestNewEntries(t *testing.T) {
	a := Entry{ID: 1, NextDueDate: domain.MustParseDate("2025-01-20")}
	b := Entry{ID: 2, NextDueDate: domain.MustParseDate("2025-02-01")}
	aMoved := Entry{ID: 1, NextDueDate: domain.MustParseDate("2025-04-20")}

	assert.Equal(t, []Entry{a, b}, newEntries(nil, []Entry{a, b}))
	assert.Equal(t, []Entry{b}, newEntries([]Entry{a}, []Entry{a, b}))
	assert.Empty(t, newEntries([]Entry{a, b}, []Entry{a}))
	assert.Equal(t, []Entry{aMoved}, newEntries([]Entry{a}, []Entry{aMoved}))
}
