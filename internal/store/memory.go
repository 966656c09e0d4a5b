package store

import (
	"context"
	"sync"

	"github.com/lowaak/ride-engine/internal/metrics"
)

// MemoryStore keeps snapshots in memory. Used in tests and as a fallback
// when no store path is configured.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]metrics.SimplifiedMetrics
}

var _ SnapshotStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]metrics.SimplifiedMetrics)}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, sessionID string, snap metrics.SimplifiedMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[sessionID] = append(s.snapshots[sessionID], snap)
	return nil
}

// Snapshots returns a copy of everything saved for the session.
func (s *MemoryStore) Snapshots(sessionID string) []metrics.SimplifiedMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metrics.SimplifiedMetrics(nil), s.snapshots[sessionID]...)
}

func (s *MemoryStore) Close() error { return nil }
