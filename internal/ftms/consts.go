// Package ftms implements the Fitness Machine Service wire protocol:
// control point command encoding, control responses, machine status
// notifications and the feature/power-range characteristics.
package ftms

// FTMS service and characteristic UUIDs.
const (
	ServiceUUID             = "00001826-0000-1000-8000-00805f9b34fb"
	IndoorBikeDataUUID      = "00002ad2-0000-1000-8000-00805f9b34fb"
	ControlPointUUID        = "00002ad9-0000-1000-8000-00805f9b34fb"
	MachineStatusUUID       = "00002ada-0000-1000-8000-00805f9b34fb"
	MachineFeatureUUID      = "00002acc-0000-1000-8000-00805f9b34fb"
	SupportedPowerRangeUUID = "00002ad8-0000-1000-8000-00805f9b34fb"
)

// Control point op codes.
const (
	opRequestControl          byte = 0x00
	opReset                   byte = 0x01
	opSetTargetResistance     byte = 0x04
	opSetTargetPower          byte = 0x05
	opSetSimulationParameters byte = 0x11
	opResponse                byte = 0x80
)

// Control point result codes carried in a response.
const (
	ResultSuccess             byte = 0x01
	ResultOpCodeNotSupported  byte = 0x02
	ResultInvalidParameter    byte = 0x03
	ResultOperationFailed     byte = 0x04
	ResultControlNotPermitted byte = 0x05
)

// Machine status op codes.
const (
	statusReset             byte = 0x01
	statusStoppedByUser     byte = 0x02
	statusStoppedBySafety   byte = 0x03
	statusStarted           byte = 0x04
	statusResistanceChanged byte = 0x07
	statusPowerChanged      byte = 0x08
	statusSimChanged        byte = 0x12
)

// ResultName returns a readable label for a control point result code.
func ResultName(result byte) string {
	switch result {
	case ResultSuccess:
		return "success"
	case ResultOpCodeNotSupported:
		return "op code not supported"
	case ResultInvalidParameter:
		return "invalid parameter"
	case ResultOperationFailed:
		return "operation failed"
	case ResultControlNotPermitted:
		return "control not permitted"
	default:
		return "unknown result"
	}
}
