// Package store persists periodic metric snapshots so a crash never
// loses more than one snapshot interval of ride data.
package store

import (
	"context"

	"github.com/lowaak/ride-engine/internal/metrics"
)

// SnapshotStore receives periodic snapshots from a recording session.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID string, snap metrics.SimplifiedMetrics) error
	Close() error
}
