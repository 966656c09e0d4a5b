package telemetry

import (
	"encoding/binary"
	"fmt"
)

// Characteristic parsers for the standard cycling services. Layouts follow
// the published GATT specifications; all multi-byte fields are
// little-endian.

// ParseHeartRate decodes a Heart Rate Measurement notification and returns
// the rate in bpm.
func ParseHeartRate(buf []byte) (float64, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("heart rate data too short: %d bytes", len(buf))
	}

	flags := buf[0]
	// Flag bit 0: heart rate value format, 0 = uint8, 1 = uint16.
	if flags&0x01 != 0 {
		if len(buf) < 3 {
			return 0, fmt.Errorf("heart rate uint16 data too short: %d bytes", len(buf))
		}
		return float64(binary.LittleEndian.Uint16(buf[1:3])), nil
	}
	return float64(buf[1]), nil
}

// ParseCyclingPower decodes a Cycling Power Measurement notification and
// returns instantaneous power in watts.
func ParseCyclingPower(buf []byte) (float64, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("cycling power data too short: %d bytes", len(buf))
	}
	// Bytes 0-1 are flags; instantaneous power is a sint16 at bytes 2-3.
	return float64(int16(binary.LittleEndian.Uint16(buf[2:4]))), nil
}

// CrankState derives cadence from consecutive CSC crank readings. The
// characteristic carries cumulative revolutions and an event clock in
// 1/1024 s units, both uint16 with rollover.
type CrankState struct {
	lastRevolutions uint16
	lastEventTime   uint16
	hasPrevious     bool
}

// ParseCadence decodes a CSC Measurement notification. The first reading
// only primes the state; the bool return reports whether a cadence value
// was produced.
func (c *CrankState) ParseCadence(buf []byte) (float64, bool, error) {
	if len(buf) < 1 {
		return 0, false, fmt.Errorf("CSC data too short: %d bytes", len(buf))
	}

	flags := buf[0]
	hasWheelData := flags&0x01 != 0
	hasCrankData := flags&0x02 != 0

	offset := 1
	if hasWheelData {
		// uint32 wheel revolutions + uint16 wheel event time
		offset += 6
	}
	if !hasCrankData {
		return 0, false, nil
	}
	if offset+4 > len(buf) {
		return 0, false, fmt.Errorf("CSC data too short for crank fields at offset %d", offset)
	}

	revolutions := binary.LittleEndian.Uint16(buf[offset : offset+2])
	eventTime := binary.LittleEndian.Uint16(buf[offset+2 : offset+4])

	if !c.hasPrevious {
		c.lastRevolutions = revolutions
		c.lastEventTime = eventTime
		c.hasPrevious = true
		return 0, false, nil
	}

	// uint16 subtraction handles rollover for both counters.
	revDiff := revolutions - c.lastRevolutions
	timeDiff := eventTime - c.lastEventTime
	c.lastRevolutions = revolutions
	c.lastEventTime = eventTime

	if timeDiff == 0 {
		return 0, false, nil
	}

	// timeDiff is in 1/1024 s; rpm = revs * 60 * 1024 / timeDiff.
	rpm := float64(revDiff) * 60.0 * 1024.0 / float64(timeDiff)
	if rpm < 0 || rpm > 300 {
		// A rollover glitch, not a human.
		return 0, false, nil
	}
	return rpm, true, nil
}

// IndoorBikeData carries the fields the engine consumes from the FTMS
// Indoor Bike Data characteristic. Presence flags mirror the wire flags.
type IndoorBikeData struct {
	HasSpeed     bool
	HasCadence   bool
	HasDistance  bool
	HasPower     bool
	HasHeartRate bool

	SpeedMps            float64
	CadenceRpm          float64
	TotalDistanceMeters float64
	PowerWatts          float64
	HeartRateBpm        float64
}

// Indoor Bike Data flag bits (FTMS 1.0).
const (
	ibdFlagMoreData             = 1 << 0 // inverted: 0 means instantaneous speed present
	ibdFlagAverageSpeed         = 1 << 1
	ibdFlagInstantaneousCadence = 1 << 2
	ibdFlagAverageCadence       = 1 << 3
	ibdFlagTotalDistance        = 1 << 4
	ibdFlagResistanceLevel      = 1 << 5
	ibdFlagInstantaneousPower   = 1 << 6
	ibdFlagAveragePower         = 1 << 7
	ibdFlagExpendedEnergy       = 1 << 8
	ibdFlagHeartRate            = 1 << 9
	ibdFlagMetabolicEquivalent  = 1 << 10
	ibdFlagElapsedTime          = 1 << 11
	ibdFlagRemainingTime        = 1 << 12
)

// ParseIndoorBikeData decodes an FTMS Indoor Bike Data notification.
// Fields appear on the wire in flag order; fields the engine does not
// consume are skipped over but still advance the offset.
func ParseIndoorBikeData(buf []byte) (*IndoorBikeData, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("indoor bike data too short: %d bytes", len(buf))
	}

	flags := binary.LittleEndian.Uint16(buf[0:2])
	offset := 2
	data := &IndoorBikeData{}

	take := func(n int, field string) ([]byte, error) {
		if offset+n > len(buf) {
			return nil, fmt.Errorf("indoor bike data too short for %s at offset %d", field, offset)
		}
		b := buf[offset : offset+n]
		offset += n
		return b, nil
	}

	// 1. Instantaneous speed (uint16, 0.01 km/h). Bit 0 is inverted.
	if flags&ibdFlagMoreData == 0 {
		b, err := take(2, "instantaneous speed")
		if err != nil {
			return nil, err
		}
		kmh := float64(binary.LittleEndian.Uint16(b)) * 0.01
		data.HasSpeed = true
		data.SpeedMps = kmh / 3.6
	}
	// 2. Average speed (uint16, 0.01 km/h), skipped.
	if flags&ibdFlagAverageSpeed != 0 {
		if _, err := take(2, "average speed"); err != nil {
			return nil, err
		}
	}
	// 3. Instantaneous cadence (uint16, 0.5 rpm).
	if flags&ibdFlagInstantaneousCadence != 0 {
		b, err := take(2, "instantaneous cadence")
		if err != nil {
			return nil, err
		}
		data.HasCadence = true
		data.CadenceRpm = float64(binary.LittleEndian.Uint16(b)) * 0.5
	}
	// 4. Average cadence (uint16, 0.5 rpm), skipped.
	if flags&ibdFlagAverageCadence != 0 {
		if _, err := take(2, "average cadence"); err != nil {
			return nil, err
		}
	}
	// 5. Total distance (uint24, meters).
	if flags&ibdFlagTotalDistance != 0 {
		b, err := take(3, "total distance")
		if err != nil {
			return nil, err
		}
		data.HasDistance = true
		data.TotalDistanceMeters = float64(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
	}
	// 6. Resistance level (sint16), skipped.
	if flags&ibdFlagResistanceLevel != 0 {
		if _, err := take(2, "resistance level"); err != nil {
			return nil, err
		}
	}
	// 7. Instantaneous power (sint16, watts).
	if flags&ibdFlagInstantaneousPower != 0 {
		b, err := take(2, "instantaneous power")
		if err != nil {
			return nil, err
		}
		data.HasPower = true
		data.PowerWatts = float64(int16(binary.LittleEndian.Uint16(b)))
	}
	// 8. Average power (sint16), skipped.
	if flags&ibdFlagAveragePower != 0 {
		if _, err := take(2, "average power"); err != nil {
			return nil, err
		}
	}
	// 9. Expended energy (uint16 + uint16 + uint8), skipped.
	if flags&ibdFlagExpendedEnergy != 0 {
		if _, err := take(5, "expended energy"); err != nil {
			return nil, err
		}
	}
	// 10. Heart rate (uint8, bpm).
	if flags&ibdFlagHeartRate != 0 {
		b, err := take(1, "heart rate")
		if err != nil {
			return nil, err
		}
		data.HasHeartRate = true
		data.HeartRateBpm = float64(b[0])
	}
	// Remaining fields (MET, elapsed, remaining) are not consumed.

	return data, nil
}
