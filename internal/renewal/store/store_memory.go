package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"assetdesk/internal/renewal/models"
	"assetdesk/pkg/domain"
	"assetdesk/pkg/platform/sentinel"
)

// InMemoryStore keeps records in a map guarded by a RWMutex. IDs increase
// monotonically and are never reused after deletion.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.RenewalID]*models.ComplianceRecord
	lastID  domain.RenewalID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[domain.RenewalID]*models.ComplianceRecord)}
}

// Create assigns the next ID to r and stores a copy.
func (s *InMemoryStore) Create(_ context.Context, r *models.ComplianceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	r.ID = s.lastID
	s.records[r.ID] = clone(r)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.RenewalID) (*models.ComplianceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(r), nil
}

// List returns all records ordered by ID.
func (s *InMemoryStore) List(_ context.Context) ([]*models.ComplianceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ComplianceRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, clone(r))
	}
	slices.SortFunc(out, func(a, b *models.ComplianceRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Execute loads the record, lets mutate change it and stores the result while
// holding the write lock. A mutate error leaves the stored record untouched.
func (s *InMemoryStore) Execute(_ context.Context, id domain.RenewalID, mutate func(*models.ComplianceRecord) error) (*models.ComplianceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(current)
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.ID = id
	s.records[id] = clone(working)
	return working, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id domain.RenewalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(context.Context) error { return nil }
