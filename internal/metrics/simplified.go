package metrics

import "time"

// SimplifiedMetrics is a point-in-time snapshot of everything the engine
// derives from the ride so far. It is what the UI renders and what the
// store persists.
type SimplifiedMetrics struct {
	Timestamp time.Time

	// Most recent validated value per metric.
	PowerWatts         float64
	HeartRateBpm       float64
	CadenceRpm         float64
	SpeedMps           float64
	TemperatureCelsius float64

	// Accumulated while recording.
	ElapsedSeconds  float64
	MovingSeconds   float64
	DistanceMeters  float64
	WorkKilojoules  float64
	Calories        float64
	AscentMeters    float64
	DescentMeters   float64

	AvgPowerWatts   float64
	AvgHeartRateBpm float64
	AvgCadenceRpm   float64
	AvgSpeedMps     float64

	MaxPowerWatts   float64
	MaxHeartRateBpm float64
	MaxCadenceRpm   float64
	MaxSpeedMps     float64

	// Seconds spent per zone, index = zone number.
	HeartRateZoneSeconds [HeartRateZoneCount]float64
	PowerZoneSeconds     [PowerZoneCount]float64

	NormalizedPowerWatts float64
	IntensityFactor      float64
	TrainingStressScore  float64
	VariabilityIndex     float64
	EfficiencyFactor     float64
}
