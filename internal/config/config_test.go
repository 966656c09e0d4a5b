package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Scan.Timeout())
	assert.Equal(t, 5*time.Second, cfg.Session.SnapshotPeriod())
	assert.Equal(t, "ride-engine.db", cfg.Store.Path)
	assert.Zero(t, cfg.Rider.FTPWatts)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
rider:
  ftp_watts: 265
  threshold_heart_rate: 172
  weight_kg: 74.5
scan:
  timeout_seconds: 20
session:
  snapshot_period_seconds: 2
store:
  path: /tmp/rides.db
log:
  file: /tmp/ride.log
  max_size_mb: 5
`)

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.InDelta(t, 265, cfg.Rider.FTPWatts, 0.001)
	assert.InDelta(t, 172, cfg.Rider.ThresholdHeartRate, 0.001)
	assert.InDelta(t, 74.5, cfg.Rider.WeightKg, 0.001)
	assert.Equal(t, 20*time.Second, cfg.Scan.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Session.SnapshotPeriod())
	assert.Equal(t, "/tmp/rides.db", cfg.Store.Path)
	assert.Equal(t, 5, cfg.Log.MaxSizeMB)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
rider:
  ftp_watts: 265
store:
  path: /tmp/rides.db
`)

	cfg, err := Load([]string{"--config", path, "--ftp", "280", "--store", "/tmp/other.db"})
	require.NoError(t, err)

	assert.InDelta(t, 280, cfg.Rider.FTPWatts, 0.001)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
	// File values without overrides survive.
	assert.Zero(t, cfg.Rider.ThresholdHeartRate)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load([]string{"--config", "/does/not/exist.yaml"})
	assert.Error(t, err)
}

func TestRiderProfile(t *testing.T) {
	profile := RiderProfile{Rider: RiderConfig{FTPWatts: 250, ThresholdHeartRate: 170}}
	assert.InDelta(t, 250, profile.FTPWatts(), 0.001)
	assert.InDelta(t, 170, profile.ThresholdHeartRate(), 0.001)
}
