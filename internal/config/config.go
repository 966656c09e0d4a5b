// Package config loads engine settings from a YAML file with flag
// overrides, and builds the rotating log writer.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is everything tunable about the engine.
type Config struct {
	Rider   RiderConfig   `mapstructure:"rider"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Session SessionConfig `mapstructure:"session"`
	Store   StoreConfig   `mapstructure:"store"`
	Plan    PlanConfig    `mapstructure:"plan"`
	Log     LogConfig     `mapstructure:"log"`
}

type RiderConfig struct {
	FTPWatts           float64 `mapstructure:"ftp_watts"`
	ThresholdHeartRate float64 `mapstructure:"threshold_heart_rate"`
	WeightKg           float64 `mapstructure:"weight_kg"`
}

type ScanConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type SessionConfig struct {
	SnapshotPeriodSeconds int `mapstructure:"snapshot_period_seconds"`
}

type StoreConfig struct {
	// Path of the sqlite snapshot database; empty keeps snapshots in memory.
	Path string `mapstructure:"path"`
}

type PlanConfig struct {
	// Path of a workout plan file; empty rides without automation.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func (c ScanConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c SessionConfig) SnapshotPeriod() time.Duration {
	return time.Duration(c.SnapshotPeriodSeconds) * time.Second
}

// RiderProfile adapts the rider config to the automation profile.
type RiderProfile struct {
	Rider RiderConfig
}

func (p RiderProfile) FTPWatts() float64           { return p.Rider.FTPWatts }
func (p RiderProfile) ThresholdHeartRate() float64 { return p.Rider.ThresholdHeartRate }

func defaults(v *viper.Viper) {
	v.SetDefault("rider.ftp_watts", 0)
	v.SetDefault("rider.threshold_heart_rate", 0)
	v.SetDefault("rider.weight_kg", 0)
	v.SetDefault("scan.timeout_seconds", 10)
	v.SetDefault("session.snapshot_period_seconds", 5)
	v.SetDefault("store.path", "ride-engine.db")
	v.SetDefault("plan.path", "")
	v.SetDefault("log.file", "ride-engine.log")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads the config file (if present) and applies flag overrides.
// Missing file is fine; the defaults make a usable engine.
func Load(args []string) (Config, error) {
	flags := pflag.NewFlagSet("ride-engine", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	flags.Float64("ftp", 0, "rider FTP in watts")
	flags.Float64("threshold-hr", 0, "rider threshold heart rate in bpm")
	flags.String("store", "", "path of the snapshot database")
	flags.String("plan", "", "path of a workout plan file")
	flags.String("log-file", "", "path of the log file")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	defaults(v)
	v.SetConfigType("yaml")

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", *configPath, err)
		}
	} else {
		v.SetConfigName("ride-engine")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ride-engine")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	bindOverride := func(key, flag string) {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	bindOverride("rider.ftp_watts", "ftp")
	bindOverride("rider.threshold_heart_rate", "threshold-hr")
	bindOverride("store.path", "store")
	bindOverride("plan.path", "plan")
	bindOverride("log.file", "log-file")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
