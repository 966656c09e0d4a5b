package ftms

import (
	"encoding/binary"
	"fmt"
)

// Target setting feature bits (second word of the feature characteristic).
const (
	targetBitResistance = 1 << 2
	targetBitPower      = 1 << 3
	targetBitSimulation = 1 << 13
)

// MachineFeature is the decoded Fitness Machine Feature characteristic.
// Only the target-setting capabilities the engine acts on are surfaced;
// the raw words are kept for logging.
type MachineFeature struct {
	SupportsResistanceTarget bool
	SupportsPowerTarget      bool
	SupportsSimulation       bool

	RawMachineFeatures uint32
	RawTargetFeatures  uint32
}

// DecodeMachineFeature parses the 8-byte feature characteristic: a
// 32-bit machine feature word followed by a 32-bit target setting word.
func DecodeMachineFeature(buf []byte) (MachineFeature, error) {
	if len(buf) < 8 {
		return MachineFeature{}, fmt.Errorf("machine feature too short: %d bytes", len(buf))
	}

	machine := binary.LittleEndian.Uint32(buf[0:4])
	target := binary.LittleEndian.Uint32(buf[4:8])

	return MachineFeature{
		SupportsResistanceTarget: target&targetBitResistance != 0,
		SupportsPowerTarget:      target&targetBitPower != 0,
		SupportsSimulation:       target&targetBitSimulation != 0,
		RawMachineFeatures:       machine,
		RawTargetFeatures:        target,
	}, nil
}

// PowerRange is the decoded Supported Power Range characteristic. ERG
// targets outside [MinWatts, MaxWatts] must be clamped before writing.
type PowerRange struct {
	MinWatts       int16
	MaxWatts       int16
	IncrementWatts uint16
}

// DecodePowerRange parses the 6-byte supported power range characteristic.
func DecodePowerRange(buf []byte) (PowerRange, error) {
	if len(buf) < 6 {
		return PowerRange{}, fmt.Errorf("power range too short: %d bytes", len(buf))
	}
	return PowerRange{
		MinWatts:       int16(binary.LittleEndian.Uint16(buf[0:2])),
		MaxWatts:       int16(binary.LittleEndian.Uint16(buf[2:4])),
		IncrementWatts: binary.LittleEndian.Uint16(buf[4:6]),
	}, nil
}

// Clamp forces an ERG target into the supported range.
func (r PowerRange) Clamp(watts int16) int16 {
	if r.MaxWatts > r.MinWatts {
		if watts < r.MinWatts {
			return r.MinWatts
		}
		if watts > r.MaxWatts {
			return r.MaxWatts
		}
	}
	return watts
}
