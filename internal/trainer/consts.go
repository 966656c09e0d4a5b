// Package trainer owns the device side of the engine: discovering and
// connecting cycling sensors, routing their notifications into the
// telemetry pipeline, and driving controllable FTMS trainers through a
// serialized, capability-checked control point.
package trainer

// Sensor service and characteristic UUIDs.
const (
	HeartRateServiceUUID        = "0000180d-0000-1000-8000-00805f9b34fb"
	HeartRateMeasurementUUID    = "00002a37-0000-1000-8000-00805f9b34fb"
	CSCServiceUUID              = "00001816-0000-1000-8000-00805f9b34fb"
	CSCMeasurementUUID          = "00002a5b-0000-1000-8000-00805f9b34fb"
	CyclingPowerServiceUUID     = "00001818-0000-1000-8000-00805f9b34fb"
	CyclingPowerMeasurementUUID = "00002a63-0000-1000-8000-00805f9b34fb"
)
