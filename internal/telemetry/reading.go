// Package telemetry holds the inbound sensor data path: reading types,
// range validation, characteristic parsing and the short-term rolling
// window used for smoothing.
package telemetry

import "time"

// Metric identifies a kind of sensor measurement
type Metric int

const (
	MetricPower       Metric = iota // watts
	MetricHeartRate                 // bpm
	MetricCadence                   // rpm
	MetricSpeed                     // m/s
	MetricTemperature               // °C
)

func (m Metric) String() string {
	switch m {
	case MetricPower:
		return "power"
	case MetricHeartRate:
		return "heart_rate"
	case MetricCadence:
		return "cadence"
	case MetricSpeed:
		return "speed"
	case MetricTemperature:
		return "temperature"
	default:
		return "unknown"
	}
}

// SensorReading is a single raw measurement as produced by the device
// manager from a characteristic notification. Ephemeral: it either becomes
// a ValidatedSample or is dropped.
type SensorReading struct {
	Metric        Metric
	Value         float64
	DeviceAddress string
	Timestamp     time.Time
}

// ValidatedSample is a SensorReading that passed the per-metric range check.
// Only validated samples reach the aggregator and rolling window.
type ValidatedSample struct {
	SensorReading
}
