package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"github.com/lowaak/ride-engine/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_snapshots (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id        TEXT NOT NULL,
	taken_at          TIMESTAMP NOT NULL,
	elapsed_seconds   REAL NOT NULL,
	moving_seconds    REAL NOT NULL,
	distance_meters   REAL NOT NULL,
	work_kilojoules   REAL NOT NULL,
	calories          REAL NOT NULL,
	ascent_meters     REAL NOT NULL,
	descent_meters    REAL NOT NULL,
	avg_power_watts   REAL NOT NULL,
	avg_heart_rate    REAL NOT NULL,
	avg_cadence_rpm   REAL NOT NULL,
	avg_speed_mps     REAL NOT NULL,
	max_power_watts   REAL NOT NULL,
	max_heart_rate    REAL NOT NULL,
	max_cadence_rpm   REAL NOT NULL,
	max_speed_mps     REAL NOT NULL,
	normalized_power  REAL NOT NULL,
	intensity_factor  REAL NOT NULL,
	training_stress   REAL NOT NULL,
	variability_index REAL NOT NULL,
	efficiency_factor REAL NOT NULL,
	hr_zone_seconds   TEXT NOT NULL,
	power_zone_seconds TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_snapshots_session
	ON session_snapshots(session_id, id);
`

// SQLiteStore persists snapshots into a single-file database. The file
// is the durable record of a ride; the newest row per session carries
// the final totals.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

var _ SnapshotStore = (*SQLiteStore)(nil)

func NewSQLiteStore(logger *log.Logger, path string) (*SQLiteStore, error) {
	if logger == nil {
		panic("SQLiteStore: logger cannot be nil")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database %s: %w", path, err)
	}
	// The driver is safe for concurrent use but sqlite writes serialize
	// anyway; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshot schema: %w", err)
	}

	logger.Printf("SQLiteStore: snapshot database ready at %s", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, sessionID string, snap metrics.SimplifiedMetrics) error {
	hrZones, err := json.Marshal(snap.HeartRateZoneSeconds)
	if err != nil {
		return fmt.Errorf("failed to encode heart rate zones: %w", err)
	}
	powerZones, err := json.Marshal(snap.PowerZoneSeconds)
	if err != nil {
		return fmt.Errorf("failed to encode power zones: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (
			session_id, taken_at,
			elapsed_seconds, moving_seconds, distance_meters,
			work_kilojoules, calories, ascent_meters, descent_meters,
			avg_power_watts, avg_heart_rate, avg_cadence_rpm, avg_speed_mps,
			max_power_watts, max_heart_rate, max_cadence_rpm, max_speed_mps,
			normalized_power, intensity_factor, training_stress,
			variability_index, efficiency_factor,
			hr_zone_seconds, power_zone_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, snap.Timestamp,
		snap.ElapsedSeconds, snap.MovingSeconds, snap.DistanceMeters,
		snap.WorkKilojoules, snap.Calories, snap.AscentMeters, snap.DescentMeters,
		snap.AvgPowerWatts, snap.AvgHeartRateBpm, snap.AvgCadenceRpm, snap.AvgSpeedMps,
		snap.MaxPowerWatts, snap.MaxHeartRateBpm, snap.MaxCadenceRpm, snap.MaxSpeedMps,
		snap.NormalizedPowerWatts, snap.IntensityFactor, snap.TrainingStressScore,
		snap.VariabilityIndex, snap.EfficiencyFactor,
		string(hrZones), string(powerZones),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for session %s: %w", sessionID, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot saved for the session.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, sessionID string) (metrics.SimplifiedMetrics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT taken_at,
			elapsed_seconds, moving_seconds, distance_meters,
			work_kilojoules, calories, ascent_meters, descent_meters,
			avg_power_watts, avg_heart_rate, avg_cadence_rpm, avg_speed_mps,
			max_power_watts, max_heart_rate, max_cadence_rpm, max_speed_mps,
			normalized_power, intensity_factor, training_stress,
			variability_index, efficiency_factor,
			hr_zone_seconds, power_zone_seconds
		FROM session_snapshots
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT 1`, sessionID)

	var snap metrics.SimplifiedMetrics
	var hrZones, powerZones string
	err := row.Scan(&snap.Timestamp,
		&snap.ElapsedSeconds, &snap.MovingSeconds, &snap.DistanceMeters,
		&snap.WorkKilojoules, &snap.Calories, &snap.AscentMeters, &snap.DescentMeters,
		&snap.AvgPowerWatts, &snap.AvgHeartRateBpm, &snap.AvgCadenceRpm, &snap.AvgSpeedMps,
		&snap.MaxPowerWatts, &snap.MaxHeartRateBpm, &snap.MaxCadenceRpm, &snap.MaxSpeedMps,
		&snap.NormalizedPowerWatts, &snap.IntensityFactor, &snap.TrainingStressScore,
		&snap.VariabilityIndex, &snap.EfficiencyFactor,
		&hrZones, &powerZones,
	)
	if err != nil {
		return metrics.SimplifiedMetrics{}, fmt.Errorf("failed to load latest snapshot for session %s: %w", sessionID, err)
	}

	if err := json.Unmarshal([]byte(hrZones), &snap.HeartRateZoneSeconds); err != nil {
		return metrics.SimplifiedMetrics{}, fmt.Errorf("failed to decode heart rate zones: %w", err)
	}
	if err := json.Unmarshal([]byte(powerZones), &snap.PowerZoneSeconds); err != nil {
		return metrics.SimplifiedMetrics{}, fmt.Errorf("failed to decode power zones: %w", err)
	}
	return snap, nil
}

// SnapshotCount returns how many snapshots the session has saved.
func (s *SQLiteStore) SnapshotCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_snapshots WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots for session %s: %w", sessionID, err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
