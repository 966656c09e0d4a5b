package store

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/ride-engine/internal/metrics"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	s, err := NewSQLiteStore(testLogger(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(elapsed float64) metrics.SimplifiedMetrics {
	snap := metrics.SimplifiedMetrics{
		Timestamp:            time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		ElapsedSeconds:       elapsed,
		MovingSeconds:        elapsed - 5,
		DistanceMeters:       elapsed * 9,
		WorkKilojoules:       elapsed * 0.2,
		Calories:             elapsed * 0.2,
		AscentMeters:         12.5,
		DescentMeters:        3.25,
		AvgPowerWatts:        215,
		AvgHeartRateBpm:      148,
		AvgCadenceRpm:        88,
		AvgSpeedMps:          9.1,
		MaxPowerWatts:        520,
		MaxHeartRateBpm:      176,
		MaxCadenceRpm:        112,
		MaxSpeedMps:          14.2,
		NormalizedPowerWatts: 228,
		IntensityFactor:      0.91,
		TrainingStressScore:  62.3,
		VariabilityIndex:     1.06,
		EfficiencyFactor:     1.45,
	}
	snap.HeartRateZoneSeconds = [metrics.HeartRateZoneCount]float64{10, 20, 30, 40, 50}
	snap.PowerZoneSeconds = [metrics.PowerZoneCount]float64{5, 10, 15, 20, 25, 30, 35}
	return snap
}

func TestSQLiteStore_SaveAndLoadLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, "ride-1", sampleSnapshot(60)))
	require.NoError(t, s.SaveSnapshot(ctx, "ride-1", sampleSnapshot(120)))

	latest, err := s.LatestSnapshot(ctx, "ride-1")
	require.NoError(t, err)
	assert.InDelta(t, 120, latest.ElapsedSeconds, 0.001)
	assert.InDelta(t, 228, latest.NormalizedPowerWatts, 0.001)
	assert.Equal(t, [metrics.HeartRateZoneCount]float64{10, 20, 30, 40, 50}, latest.HeartRateZoneSeconds)
	assert.Equal(t, [metrics.PowerZoneCount]float64{5, 10, 15, 20, 25, 30, 35}, latest.PowerZoneSeconds)
}

func TestSQLiteStore_SessionsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, "ride-1", sampleSnapshot(60)))
	require.NoError(t, s.SaveSnapshot(ctx, "ride-2", sampleSnapshot(300)))

	count1, err := s.SnapshotCount(ctx, "ride-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count1)

	latest, err := s.LatestSnapshot(ctx, "ride-2")
	require.NoError(t, err)
	assert.InDelta(t, 300, latest.ElapsedSeconds, 0.001)
}

func TestSQLiteStore_LatestSnapshotMissingSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LatestSnapshot(context.Background(), "nope")
	assert.Error(t, err)
}

func TestMemoryStore_SaveAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, "ride-1", sampleSnapshot(60)))
	require.NoError(t, s.SaveSnapshot(ctx, "ride-1", sampleSnapshot(120)))

	snapshots := s.Snapshots("ride-1")
	require.Len(t, snapshots, 2)
	assert.InDelta(t, 120, snapshots[1].ElapsedSeconds, 0.001)
	assert.Empty(t, s.Snapshots("ride-2"))
}
