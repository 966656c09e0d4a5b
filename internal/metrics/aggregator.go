package metrics

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/lowaak/ride-engine/internal/telemetry"
)

// normalizedPowerWindow is the smoothing interval the normalized power
// algorithm averages over before raising to the fourth power.
const normalizedPowerWindow = 30 * time.Second

// Aggregator folds the validated sample stream into ride totals. Ingest
// is called for every sample regardless of session state; Tick is called
// once per second only while the session is recording, so totals and
// zone time never accrue while paused.
type Aggregator struct {
	mu     sync.Mutex
	logger *log.Logger
	window *telemetry.RollingWindow

	ftpWatts           float64
	thresholdHeartRate float64
	gradePercent       float64

	current map[telemetry.Metric]float64
	seen    map[telemetry.Metric]bool

	elapsedSeconds float64
	movingSeconds  float64
	distanceMeters float64
	workKilojoules float64
	ascentMeters   float64
	descentMeters  float64

	weightedSum     map[telemetry.Metric]float64
	weightedSeconds map[telemetry.Metric]float64
	maxValue        map[telemetry.Metric]float64

	heartRateZoneSeconds [HeartRateZoneCount]float64
	powerZoneSeconds     [PowerZoneCount]float64

	npFourthPowerSum float64
	npTickCount      float64
}

func NewAggregator(logger *log.Logger, ftpWatts, thresholdHeartRate float64) *Aggregator {
	if logger == nil {
		panic("Aggregator: logger cannot be nil")
	}
	return &Aggregator{
		logger:             logger,
		window:             telemetry.NewRollingWindow(),
		ftpWatts:           ftpWatts,
		thresholdHeartRate: thresholdHeartRate,
		current:            make(map[telemetry.Metric]float64),
		seen:               make(map[telemetry.Metric]bool),
		weightedSum:        make(map[telemetry.Metric]float64),
		weightedSeconds:    make(map[telemetry.Metric]float64),
		maxValue:           make(map[telemetry.Metric]float64),
	}
}

// SetThresholds updates the rider thresholds used for zone classification
// and training load. Zone seconds already accrued are not reclassified.
func (a *Aggregator) SetThresholds(ftpWatts, thresholdHeartRate float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ftpWatts = ftpWatts
	a.thresholdHeartRate = thresholdHeartRate
}

// SetGradePercent records the simulated grade currently applied to the
// trainer so elevation can be integrated from speed.
func (a *Aggregator) SetGradePercent(grade float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gradePercent = grade
}

// Ingest updates the current values and the rolling window. It runs in
// every session state so the live readout works before and between
// recording segments.
func (a *Aggregator) Ingest(sample telemetry.ValidatedSample) {
	a.mu.Lock()
	a.current[sample.Metric] = sample.Value
	a.seen[sample.Metric] = true
	a.mu.Unlock()

	a.window.Push(sample)
}

// Tick advances all recording-time accumulators by dt. The session calls
// it once per second while recording and never otherwise.
func (a *Aggregator) Tick(dt time.Duration) {
	rolling30 := a.window.Average(telemetry.MetricPower, normalizedPowerWindow)

	a.mu.Lock()
	defer a.mu.Unlock()

	seconds := dt.Seconds()
	if seconds <= 0 {
		return
	}

	a.elapsedSeconds += seconds

	power := a.current[telemetry.MetricPower]
	heartRate := a.current[telemetry.MetricHeartRate]
	speed := a.current[telemetry.MetricSpeed]

	if speed > 0 || power > 0 {
		a.movingSeconds += seconds
	}
	a.distanceMeters += speed * seconds
	a.workKilojoules += power * seconds / 1000.0

	// Elevation is integrated from the simulated grade the trainer is
	// holding. rise/run for small grades: vertical ≈ speed * grade/100.
	vertical := speed * seconds * a.gradePercent / 100.0
	if vertical > 0 {
		a.ascentMeters += vertical
	} else {
		a.descentMeters -= vertical
	}

	for _, metric := range []telemetry.Metric{
		telemetry.MetricPower,
		telemetry.MetricHeartRate,
		telemetry.MetricCadence,
		telemetry.MetricSpeed,
	} {
		if !a.seen[metric] {
			continue
		}
		value := a.current[metric]
		a.weightedSum[metric] += value * seconds
		a.weightedSeconds[metric] += seconds
		if value > a.maxValue[metric] {
			a.maxValue[metric] = value
		}
	}

	if a.seen[telemetry.MetricPower] {
		a.powerZoneSeconds[PowerZone(power, a.ftpWatts)] += seconds
	}
	if a.seen[telemetry.MetricHeartRate] {
		a.heartRateZoneSeconds[HeartRateZone(heartRate, a.thresholdHeartRate)] += seconds
	}

	a.npFourthPowerSum += math.Pow(rolling30, 4)
	a.npTickCount++
}

func (a *Aggregator) average(metric telemetry.Metric) float64 {
	seconds := a.weightedSeconds[metric]
	if seconds == 0 {
		return 0
	}
	return a.weightedSum[metric] / seconds
}

// Snapshot derives the full metrics view from the accumulators. Every
// ratio with a zero divisor comes back as 0, never NaN or Inf.
func (a *Aggregator) Snapshot() SimplifiedMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := SimplifiedMetrics{
		Timestamp:          time.Now(),
		PowerWatts:         a.current[telemetry.MetricPower],
		HeartRateBpm:       a.current[telemetry.MetricHeartRate],
		CadenceRpm:         a.current[telemetry.MetricCadence],
		SpeedMps:           a.current[telemetry.MetricSpeed],
		TemperatureCelsius: a.current[telemetry.MetricTemperature],

		ElapsedSeconds: a.elapsedSeconds,
		MovingSeconds:  a.movingSeconds,
		DistanceMeters: a.distanceMeters,
		WorkKilojoules: a.workKilojoules,
		AscentMeters:   a.ascentMeters,
		DescentMeters:  a.descentMeters,

		AvgPowerWatts:   a.average(telemetry.MetricPower),
		AvgHeartRateBpm: a.average(telemetry.MetricHeartRate),
		AvgCadenceRpm:   a.average(telemetry.MetricCadence),
		AvgSpeedMps:     a.average(telemetry.MetricSpeed),

		MaxPowerWatts:   a.maxValue[telemetry.MetricPower],
		MaxHeartRateBpm: a.maxValue[telemetry.MetricHeartRate],
		MaxCadenceRpm:   a.maxValue[telemetry.MetricCadence],
		MaxSpeedMps:     a.maxValue[telemetry.MetricSpeed],

		HeartRateZoneSeconds: a.heartRateZoneSeconds,
		PowerZoneSeconds:     a.powerZoneSeconds,
	}

	// kJ of work approximates kcal burned: ~24% gross efficiency
	// roughly cancels the 4.184 kJ/kcal conversion.
	snap.Calories = snap.WorkKilojoules

	if a.npTickCount > 0 {
		snap.NormalizedPowerWatts = math.Pow(a.npFourthPowerSum/a.npTickCount, 0.25)
	}
	if a.ftpWatts > 0 {
		snap.IntensityFactor = snap.NormalizedPowerWatts / a.ftpWatts
	}
	snap.TrainingStressScore = a.elapsedSeconds / 3600.0 * snap.IntensityFactor * snap.IntensityFactor * 100.0
	if snap.AvgPowerWatts > 0 {
		snap.VariabilityIndex = snap.NormalizedPowerWatts / snap.AvgPowerWatts
	}
	if snap.AvgHeartRateBpm > 0 {
		snap.EfficiencyFactor = snap.AvgPowerWatts / snap.AvgHeartRateBpm
	}

	return snap
}
