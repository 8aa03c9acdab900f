package planchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development. It
// enforces the same at-most-one-pending invariant as MongoStore, under a
// mutex instead of a partial unique index.
type MemoryStore struct {
	mu      sync.Mutex
	changes map[uuid.UUID]*ScheduledChange
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{changes: make(map[uuid.UUID]*ScheduledChange)}
}

func (s *MemoryStore) CreatePending(_ context.Context, change *ScheduledChange) error {
	if change.SubscriptionID == "" || change.UserID == uuid.Nil || !change.ChangeType.Valid() {
		return ErrInvalidChange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.changes {
		if existing.SubscriptionID == change.SubscriptionID && existing.Pending() {
			return ErrChangePending
		}
	}

	now := time.Now().UTC()
	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}
	change.Status = StatusPending
	change.CreatedAt = now
	change.UpdatedAt = now

	stored := *change
	s.changes[change.ID] = &stored
	return nil
}

func (s *MemoryStore) FindPending(_ context.Context, subscriptionID string) (*ScheduledChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.changes {
		if c.SubscriptionID == subscriptionID && c.Pending() {
			copied := *c
			return &copied, nil
		}
	}
	return nil, ErrNoPendingChange
}

func (s *MemoryStore) FindPendingForUser(_ context.Context, subscriptionID string, userID uuid.UUID) (*ScheduledChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.changes {
		if c.SubscriptionID == subscriptionID && c.UserID == userID && c.Pending() {
			copied := *c
			return &copied, nil
		}
	}
	return nil, ErrNoPendingChange
}

func (s *MemoryStore) MarkExecuted(_ context.Context, id uuid.UUID) error {
	return s.finalize(id, StatusExecuted)
}

func (s *MemoryStore) MarkReverted(_ context.Context, id uuid.UUID) error {
	return s.finalize(id, StatusReverted)
}

func (s *MemoryStore) finalize(id uuid.UUID, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.changes[id]
	if !ok || !CanTransition(c.Status, to) {
		return ErrChangeNotFound
	}

	now := time.Now().UTC()
	c.Status = to
	c.UpdatedAt = now
	switch to {
	case StatusExecuted:
		c.ExecutedAt = &now
	case StatusReverted:
		c.RevertedAt = &now
	}
	return nil
}

// Get returns a copy of a change by id, for tests.
func (s *MemoryStore) Get(id uuid.UUID) (*ScheduledChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.changes[id]
	if !ok {
		return nil, false
	}
	copied := *c
	return &copied, true
}
