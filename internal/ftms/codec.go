package ftms

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Command is a control point write. Each implementation knows its own
// wire layout; EncodeCommand produces the op code followed by the
// little-endian parameter block.
type Command interface {
	opCode() byte
	appendParameters(buf []byte) []byte
	fmt.Stringer
}

// RequestControl asks the machine for the control permission every other
// write requires.
type RequestControl struct{}

func (RequestControl) opCode() byte                       { return opRequestControl }
func (RequestControl) appendParameters(buf []byte) []byte { return buf }
func (RequestControl) String() string                     { return "request control" }

// Reset returns the machine to its default behavior and drops any target.
type Reset struct{}

func (Reset) opCode() byte                       { return opReset }
func (Reset) appendParameters(buf []byte) []byte { return buf }
func (Reset) String() string                     { return "reset" }

// SetTargetResistance sets a unitless resistance level, wire resolution 0.1.
type SetTargetResistance struct {
	Level float64
}

func (SetTargetResistance) opCode() byte { return opSetTargetResistance }

func (c SetTargetResistance) appendParameters(buf []byte) []byte {
	return binary.LittleEndian.AppendUint16(buf, uint16(int16(math.Round(c.Level*10))))
}

func (c SetTargetResistance) String() string {
	return fmt.Sprintf("set target resistance %.1f", c.Level)
}

// SetTargetPower sets an ERG power target in watts.
type SetTargetPower struct {
	Watts int16
}

func (SetTargetPower) opCode() byte { return opSetTargetPower }

func (c SetTargetPower) appendParameters(buf []byte) []byte {
	return binary.LittleEndian.AppendUint16(buf, uint16(c.Watts))
}

func (c SetTargetPower) String() string {
	return fmt.Sprintf("set target power %dW", c.Watts)
}

// SetSimulationParameters describes a virtual riding situation. Wire
// resolutions: wind 0.001 m/s, grade 0.01%, crr 0.0001, cw 0.01 kg/m.
type SetSimulationParameters struct {
	WindSpeedMps           float64
	GradePercent           float64
	RollingResistanceCoeff float64
	WindResistanceCoeff    float64
}

func (SetSimulationParameters) opCode() byte { return opSetSimulationParameters }

func (c SetSimulationParameters) appendParameters(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(int16(math.Round(c.WindSpeedMps*1000))))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(int16(math.Round(c.GradePercent*100))))
	buf = append(buf, byte(math.Round(c.RollingResistanceCoeff*10000)))
	buf = append(buf, byte(math.Round(c.WindResistanceCoeff*100)))
	return buf
}

func (c SetSimulationParameters) String() string {
	return fmt.Sprintf("set simulation grade=%.2f%% wind=%.3fm/s crr=%.4f cw=%.2f",
		c.GradePercent, c.WindSpeedMps, c.RollingResistanceCoeff, c.WindResistanceCoeff)
}

// EncodeCommand serializes a command for a control point write.
func EncodeCommand(cmd Command) []byte {
	return cmd.appendParameters([]byte{cmd.opCode()})
}

// ControlResponse is the machine's answer to a control point write,
// delivered as an indication on the same characteristic.
type ControlResponse struct {
	RequestOpCode byte
	Result        byte
}

// Success reports whether the write was accepted.
func (r ControlResponse) Success() bool { return r.Result == ResultSuccess }

// MatchesCommand reports whether this response answers the given command.
func (r ControlResponse) MatchesCommand(cmd Command) bool {
	return r.RequestOpCode == cmd.opCode()
}

// DecodeResponse parses a control point indication. Anything that is not
// a well-formed response op is an error.
func DecodeResponse(buf []byte) (ControlResponse, error) {
	if len(buf) < 3 {
		return ControlResponse{}, fmt.Errorf("control response too short: %d bytes", len(buf))
	}
	if buf[0] != opResponse {
		return ControlResponse{}, fmt.Errorf("not a control response: op 0x%02x", buf[0])
	}
	return ControlResponse{RequestOpCode: buf[1], Result: buf[2]}, nil
}
