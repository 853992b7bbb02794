package memory

import (
	"context"
	"sync"

	"graphledger-backend/application/ports"
)

// SnapshotStore keeps the latest snapshot per aggregate in memory
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]ports.Snapshot
}

// NewSnapshotStore creates an in-memory snapshot store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]ports.Snapshot)}
}

// Save persists a snapshot, superseding any earlier one
func (s *SnapshotStore) Save(ctx context.Context, snapshot *ports.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.AggregateID] = *snapshot
	return nil
}

// Latest returns the most recent snapshot for an aggregate, nil when none exists
func (s *SnapshotStore) Latest(ctx context.Context, aggregateID string) (*ports.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	copied := snapshot
	return &copied, nil
}

// Delete removes the aggregate's snapshot
func (s *SnapshotStore) Delete(ctx context.Context, aggregateID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, aggregateID)
	return nil
}
