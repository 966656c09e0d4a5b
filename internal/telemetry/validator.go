package telemetry

import "log"

// metricRange is an inclusive plausibility band for one metric. Values
// outside it are characteristic glitches, not physiology.
type metricRange struct {
	min float64
	max float64
}

var rangeByMetric = map[Metric]metricRange{
	MetricPower:       {0, 4000}, // watts
	MetricHeartRate:   {30, 250}, // bpm
	MetricCadence:     {0, 255},  // rpm
	MetricSpeed:       {0, 100},  // m/s
	MetricTemperature: {-50, 60}, // °C
}

// Validator range-checks inbound readings so a glitching characteristic
// cannot poison long-running averages or zone totals.
type Validator struct {
	logger *log.Logger
}

func NewValidator(logger *log.Logger) *Validator {
	if logger == nil {
		panic("Validator: logger cannot be nil")
	}
	return &Validator{logger: logger}
}

// Validate returns the reading as a ValidatedSample when it falls inside
// the documented range for its metric. Out-of-range readings are logged
// and dropped; the second return is false.
func (v *Validator) Validate(reading SensorReading) (ValidatedSample, bool) {
	r, ok := rangeByMetric[reading.Metric]
	if !ok {
		v.logger.Printf("Validator: rejected reading with unknown metric %d (value %.1f)", reading.Metric, reading.Value)
		return ValidatedSample{}, false
	}
	if reading.Value < r.min || reading.Value > r.max {
		v.logger.Printf("Validator: rejected %s reading %.1f (allowed %.1f..%.1f) from %s",
			reading.Metric, reading.Value, r.min, r.max, reading.DeviceAddress)
		return ValidatedSample{}, false
	}
	return ValidatedSample{SensorReading: reading}, true
}
