package trainer

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/lowaak/ride-engine/internal/ftms"
)

// fakeTransport is an in-memory FTMS machine for controller tests. By
// default every control point write is acknowledged with a success
// response; tests override respond to fail or stall.
type fakeTransport struct {
	mu             sync.Mutex
	connected      bool
	featureBuf     []byte
	powerRangeBuf  []byte
	writes         [][]byte
	writeErr       error
	controlHandler func([]byte)
	statusHandler  func([]byte)

	// respond is called after each accepted write with the written
	// payload. nil means auto-acknowledge with success.
	respond func(t *fakeTransport, payload []byte)
}

func newFakeTransport(feature ftms.MachineFeature) *fakeTransport {
	featureBuf := make([]byte, 8)
	var target uint32
	if feature.SupportsResistanceTarget {
		target |= 1 << 2
	}
	if feature.SupportsPowerTarget {
		target |= 1 << 3
	}
	if feature.SupportsSimulation {
		target |= 1 << 13
	}
	binary.LittleEndian.PutUint32(featureBuf[4:8], target)

	return &fakeTransport{
		connected:     true,
		featureBuf:    featureBuf,
		powerRangeBuf: []byte{0x0A, 0x00, 0xE8, 0x03, 0x01, 0x00}, // 10..1000W
	}
}

func (f *fakeTransport) Address() string { return "FA:KE:00:00:00:01" }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

func (f *fakeTransport) WriteControlPoint(payload []byte) error {
	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	f.writes = append(f.writes, append([]byte(nil), payload...))
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		respond(f, payload)
	} else {
		f.ack(payload[0], ftms.ResultSuccess)
	}
	return nil
}

// ack delivers a control response for the given op code.
func (f *fakeTransport) ack(opCode, result byte) {
	f.mu.Lock()
	handler := f.controlHandler
	f.mu.Unlock()
	if handler != nil {
		handler([]byte{0x80, opCode, result})
	}
}

// pushStatus delivers a machine status notification.
func (f *fakeTransport) pushStatus(buf []byte) {
	f.mu.Lock()
	handler := f.statusHandler
	f.mu.Unlock()
	if handler != nil {
		handler(buf)
	}
}

func (f *fakeTransport) ReadFeature() ([]byte, error) {
	if f.featureBuf == nil {
		return nil, errors.New("feature read failed")
	}
	return f.featureBuf, nil
}

func (f *fakeTransport) ReadPowerRange() ([]byte, error) {
	if f.powerRangeBuf == nil {
		return nil, errors.New("power range read failed")
	}
	return f.powerRangeBuf, nil
}

func (f *fakeTransport) SubscribeControlPoint(handler func([]byte)) error {
	f.mu.Lock()
	f.controlHandler = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SubscribeStatus(handler func([]byte)) error {
	f.mu.Lock()
	f.statusHandler = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) writtenOpCodes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]byte, 0, len(f.writes))
	for _, w := range f.writes {
		ops = append(ops, w[0])
	}
	return ops
}

var _ ControlTransport = (*fakeTransport)(nil)
