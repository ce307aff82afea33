package watcher

import (
	"context"
	"sync"
	"time"

	"assetdesk/internal/renewal/models"
	"assetdesk/pkg/domain"
	"assetdesk/pkg/platform/sentinel"
)

// Entry is one obligation shown in the due-soon dropdown.
type Entry struct {
	ID          domain.RenewalID `json:"id"`
	Particulars string           `json:"compliance_particulars"`
	NextDueDate domain.Date      `json:"next_due_date"`
}

// EntryFrom projects a record that is known to carry a next due date.
func EntryFrom(r *models.ComplianceRecord) Entry {
	return Entry{
		ID:          r.ID,
		Particulars: r.Particulars,
		NextDueDate: r.NextDueDate.Date,
	}
}

// Snapshot is the latest due-soon view published by the watcher.
//
// Generation increases with every refresh attempt, failed or not. A zero
// generation means no refresh has completed yet.
type Snapshot struct {
	Generation  uint64      `json:"generation"`
	Today       domain.Date `json:"today"`
	Items       []Entry     `json:"items"`
	RefreshedAt time.Time   `json:"refreshed_at"`
	LastError   string      `json:"last_error,omitempty"`
}

// Count is the badge number.
func (s Snapshot) Count() int { return len(s.Items) }

// IsZero reports whether the snapshot was never written.
func (s Snapshot) IsZero() bool { return s.Generation == 0 }

// SnapshotStore holds the latest snapshot. Save rejects a snapshot whose
// generation is not newer than the stored one with sentinel.ErrStale.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// MemorySnapshotStore keeps the snapshot in process.
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (m *MemorySnapshotStore) Load(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSnapshot(m.snap), nil
}

func (m *MemorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Generation <= m.snap.Generation {
		return sentinel.ErrStale
	}
	m.snap = cloneSnapshot(snap)
	return nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	if s.Items != nil {
		s.Items = append([]Entry(nil), s.Items...)
	}
	return s
}
