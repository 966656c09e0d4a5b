package trainer

import (
	"github.com/lowaak/ride-engine/internal/bt"
	"github.com/lowaak/ride-engine/internal/ftms"
)

// ControlTransport is the slice of GATT the controller needs from a
// connected FTMS machine. Keeping it narrow lets controller tests run
// against an in-memory fake.
type ControlTransport interface {
	Address() string
	IsConnected() bool
	WriteControlPoint(payload []byte) error
	ReadFeature() ([]byte, error)
	ReadPowerRange() ([]byte, error)
	SubscribeControlPoint(handler func(buf []byte)) error
	SubscribeStatus(handler func(buf []byte)) error
}

// btControlTransport adapts a connected BTDevice to the controller's
// transport surface using the FTMS UUIDs.
type btControlTransport struct {
	device bt.BTDevice
}

var _ ControlTransport = (*btControlTransport)(nil)

func newBTControlTransport(device bt.BTDevice) *btControlTransport {
	return &btControlTransport{device: device}
}

func (t *btControlTransport) Address() string {
	return t.device.GetAddressString()
}

func (t *btControlTransport) IsConnected() bool {
	return t.device.IsConnected()
}

func (t *btControlTransport) WriteControlPoint(payload []byte) error {
	return t.device.WriteCharacteristic(ftms.ServiceUUID, ftms.ControlPointUUID, payload)
}

func (t *btControlTransport) ReadFeature() ([]byte, error) {
	return t.device.ReadCharacteristic(ftms.ServiceUUID, ftms.MachineFeatureUUID)
}

func (t *btControlTransport) ReadPowerRange() ([]byte, error) {
	return t.device.ReadCharacteristic(ftms.ServiceUUID, ftms.SupportedPowerRangeUUID)
}

func (t *btControlTransport) SubscribeControlPoint(handler func(buf []byte)) error {
	return t.device.EnableNotifications(ftms.ServiceUUID, ftms.ControlPointUUID, handler)
}

func (t *btControlTransport) SubscribeStatus(handler func(buf []byte)) error {
	return t.device.EnableNotifications(ftms.ServiceUUID, ftms.MachineStatusUUID, handler)
}
