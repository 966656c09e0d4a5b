package ftms

import "fmt"

// StatusKind classifies a machine status notification.
type StatusKind int

const (
	StatusUnknown StatusKind = iota
	StatusReset
	StatusStoppedByUser
	StatusStoppedBySafetyKey
	StatusStarted
	StatusResistanceChanged
	StatusPowerChanged
	StatusSimulationChanged
)

func (k StatusKind) String() string {
	switch k {
	case StatusReset:
		return "reset"
	case StatusStoppedByUser:
		return "stopped by user"
	case StatusStoppedBySafetyKey:
		return "stopped by safety key"
	case StatusStarted:
		return "started"
	case StatusResistanceChanged:
		return "resistance changed"
	case StatusPowerChanged:
		return "power changed"
	case StatusSimulationChanged:
		return "simulation changed"
	default:
		return "unknown status"
	}
}

// StatusEvent is a decoded machine status notification. The machine sends
// these spontaneously, including for changes made from its own console,
// so they are the authoritative record of what the machine is doing.
type StatusEvent struct {
	Kind StatusKind

	// RawOpCode is kept for unknown notifications so they can be logged.
	RawOpCode byte

	// Set when Kind is StatusResistanceChanged.
	ResistanceLevel float64

	// Set when Kind is StatusPowerChanged.
	TargetPowerWatts int16

	// Set when Kind is StatusSimulationChanged.
	Simulation SetSimulationParameters
}

// DecodeStatus parses a machine status notification. Unknown op codes
// decode to a StatusUnknown event rather than an error so they are never
// silently dropped; malformed payloads for known ops are errors.
func DecodeStatus(buf []byte) (StatusEvent, error) {
	if len(buf) < 1 {
		return StatusEvent{}, fmt.Errorf("machine status too short: %d bytes", len(buf))
	}

	op := buf[0]
	event := StatusEvent{RawOpCode: op}

	switch op {
	case statusReset:
		event.Kind = StatusReset
	case statusStoppedByUser:
		event.Kind = StatusStoppedByUser
	case statusStoppedBySafety:
		event.Kind = StatusStoppedBySafetyKey
	case statusStarted:
		event.Kind = StatusStarted
	case statusResistanceChanged:
		if len(buf) < 3 {
			return StatusEvent{}, fmt.Errorf("resistance status too short: %d bytes", len(buf))
		}
		event.Kind = StatusResistanceChanged
		event.ResistanceLevel = float64(int16(uint16(buf[1])|uint16(buf[2])<<8)) / 10.0
	case statusPowerChanged:
		if len(buf) < 3 {
			return StatusEvent{}, fmt.Errorf("power status too short: %d bytes", len(buf))
		}
		event.Kind = StatusPowerChanged
		event.TargetPowerWatts = int16(uint16(buf[1]) | uint16(buf[2])<<8)
	case statusSimChanged:
		if len(buf) < 7 {
			return StatusEvent{}, fmt.Errorf("simulation status too short: %d bytes", len(buf))
		}
		event.Kind = StatusSimulationChanged
		event.Simulation = SetSimulationParameters{
			WindSpeedMps:           float64(int16(uint16(buf[1])|uint16(buf[2])<<8)) / 1000.0,
			GradePercent:           float64(int16(uint16(buf[3])|uint16(buf[4])<<8)) / 100.0,
			RollingResistanceCoeff: float64(buf[5]) / 10000.0,
			WindResistanceCoeff:    float64(buf[6]) / 100.0,
		}
	default:
		event.Kind = StatusUnknown
	}

	return event, nil
}
