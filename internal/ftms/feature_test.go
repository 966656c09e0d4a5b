package ftms

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featureBytes(machine, target uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], machine)
	binary.LittleEndian.PutUint32(buf[4:8], target)
	return buf
}

func TestDecodeMachineFeature_TargetBits(t *testing.T) {
	feature, err := DecodeMachineFeature(featureBytes(0, 1<<2|1<<3|1<<13))
	require.NoError(t, err)
	assert.True(t, feature.SupportsResistanceTarget)
	assert.True(t, feature.SupportsPowerTarget)
	assert.True(t, feature.SupportsSimulation)
}

func TestDecodeMachineFeature_NoTargets(t *testing.T) {
	feature, err := DecodeMachineFeature(featureBytes(0xFFFF, 0))
	require.NoError(t, err)
	assert.False(t, feature.SupportsResistanceTarget)
	assert.False(t, feature.SupportsPowerTarget)
	assert.False(t, feature.SupportsSimulation)
	assert.Equal(t, uint32(0xFFFF), feature.RawMachineFeatures)
}

func TestDecodeMachineFeature_TooShort(t *testing.T) {
	_, err := DecodeMachineFeature([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestDecodePowerRange(t *testing.T) {
	r, err := DecodePowerRange([]byte{0x0A, 0x00, 0xE8, 0x03, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, int16(10), r.MinWatts)
	assert.Equal(t, int16(1000), r.MaxWatts)
	assert.Equal(t, uint16(1), r.IncrementWatts)
}

func TestPowerRange_Clamp(t *testing.T) {
	r := PowerRange{MinWatts: 10, MaxWatts: 1000}

	assert.Equal(t, int16(10), r.Clamp(5))
	assert.Equal(t, int16(1000), r.Clamp(1500))
	assert.Equal(t, int16(250), r.Clamp(250))

	// An unset range clamps nothing.
	var zero PowerRange
	assert.Equal(t, int16(2500), zero.Clamp(2500))
}
