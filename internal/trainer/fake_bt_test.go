package trainer

import (
	"fmt"
	"sync"
	"time"

	"github.com/lowaak/ride-engine/internal/bt"
)

// fakeBTDevice implements bt.BTDevice in memory. Notification handlers
// are captured so tests can inject characteristic data.
type fakeBTDevice struct {
	mu           sync.Mutex
	address      string
	localName    string
	serviceUUIDs []string
	connected    bool
	handlers     map[string]func([]byte)
	readData     map[string][]byte
	written      map[string][][]byte

	// onWrite lets tests respond to characteristic writes.
	onWrite func(serviceUuid, charUuid string, data []byte)
}

func newFakeBTDevice(address string, serviceUUIDs ...string) *fakeBTDevice {
	return &fakeBTDevice{
		address:      address,
		localName:    "Fake " + address,
		serviceUUIDs: serviceUUIDs,
		handlers:     make(map[string]func([]byte)),
		readData:     make(map[string][]byte),
		written:      make(map[string][][]byte),
	}
}

func charKey(serviceUuid, charUuid string) string {
	return serviceUuid + "_" + charUuid
}

func (d *fakeBTDevice) GetAddressString() string        { return d.address }
func (d *fakeBTDevice) GetScanRSSI() (int16, error)     { return -60, nil }
func (d *fakeBTDevice) GetScanLastSeen() time.Time      { return time.Now() }
func (d *fakeBTDevice) SetScanLastSeen(time.Time)       {}
func (d *fakeBTDevice) GetLocalName() string            { return d.localName }
func (d *fakeBTDevice) IsRecentlyScanned() bool         { return true }
func (d *fakeBTDevice) GetStateDescription() string     { return "Connected" }

func (d *fakeBTDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeBTDevice) GetState() bt.BTDeviceState {
	if d.IsConnected() {
		return bt.Connected
	}
	return bt.Disconnected
}

func (d *fakeBTDevice) setConnected(connected bool) {
	d.mu.Lock()
	d.connected = connected
	d.mu.Unlock()
}

func (d *fakeBTDevice) WaitForConnection(timeout time.Duration) error {
	if d.IsConnected() {
		return nil
	}
	return fmt.Errorf("timeout after %v waiting for connection", timeout)
}

func (d *fakeBTDevice) EnableNotifications(serviceUuid, charUuid string, callback func(buf []byte)) error {
	d.mu.Lock()
	d.handlers[charKey(serviceUuid, charUuid)] = callback
	d.mu.Unlock()
	return nil
}

func (d *fakeBTDevice) DisableNotifications(serviceUuid, charUuid string) error {
	d.mu.Lock()
	delete(d.handlers, charKey(serviceUuid, charUuid))
	d.mu.Unlock()
	return nil
}

func (d *fakeBTDevice) ReadCharacteristic(serviceUuid, charUuid string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if data, ok := d.readData[charKey(serviceUuid, charUuid)]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("characteristic %v not found in service %v", charUuid, serviceUuid)
}

func (d *fakeBTDevice) WriteCharacteristic(serviceUuid, charUuid string, data []byte) error {
	key := charKey(serviceUuid, charUuid)
	d.mu.Lock()
	d.written[key] = append(d.written[key], append([]byte(nil), data...))
	onWrite := d.onWrite
	d.mu.Unlock()
	if onWrite != nil {
		onWrite(serviceUuid, charUuid, data)
	}
	return nil
}

func (d *fakeBTDevice) GetServiceUUIDs() []string { return d.serviceUUIDs }

func (d *fakeBTDevice) HasServiceUUID(uuid string) bool {
	for _, u := range d.serviceUUIDs {
		if u == uuid {
			return true
		}
	}
	return false
}

// notify pushes characteristic data into the captured handler.
func (d *fakeBTDevice) notify(serviceUuid, charUuid string, buf []byte) {
	d.mu.Lock()
	handler := d.handlers[charKey(serviceUuid, charUuid)]
	d.mu.Unlock()
	if handler != nil {
		handler(buf)
	}
}

var _ bt.BTDevice = (*fakeBTDevice)(nil)

// fakeBTManager implements bt.BTManagerInterface over a fixed device set.
type fakeBTManager struct {
	mu        sync.Mutex
	devices   map[string]*fakeBTDevice
	listeners []chan<- []bt.BTDevice
	scanning  bool
}

func newFakeBTManager(devices ...*fakeBTDevice) *fakeBTManager {
	m := &fakeBTManager{devices: make(map[string]*fakeBTDevice)}
	for _, d := range devices {
		m.devices[d.address] = d
	}
	return m
}

func (m *fakeBTManager) Enable() error { return nil }

func (m *fakeBTManager) GetBTDeviceByAddressString(address string) bt.BTDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[address]
	if !ok {
		return nil
	}
	return device
}

func (m *fakeBTManager) StartScan([]string) {
	m.mu.Lock()
	m.scanning = true
	m.mu.Unlock()
}

func (m *fakeBTManager) StopScan() error {
	m.mu.Lock()
	m.scanning = false
	m.mu.Unlock()
	return nil
}

func (m *fakeBTManager) IsScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanning
}

func (m *fakeBTManager) Connect(device bt.BTDevice) error {
	m.mu.Lock()
	d, ok := m.devices[device.GetAddressString()]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown device %s", device.GetAddressString())
	}
	d.setConnected(true)
	m.notifyConnected()
	return nil
}

func (m *fakeBTManager) Disconnect(device bt.BTDevice) error {
	m.mu.Lock()
	d, ok := m.devices[device.GetAddressString()]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown device %s", device.GetAddressString())
	}
	d.setConnected(false)
	m.notifyConnected()
	return nil
}

func (m *fakeBTManager) GetConnectedDevices() []bt.BTDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]bt.BTDevice, 0)
	for _, d := range m.devices {
		if d.IsConnected() {
			result = append(result, d)
		}
	}
	return result
}

func (m *fakeBTManager) GetScanDevices() []bt.BTDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]bt.BTDevice, 0)
	for _, d := range m.devices {
		result = append(result, d)
	}
	return result
}

func (m *fakeBTManager) ListenToDeviceList(ch chan<- []bt.BTDevice) func() {
	return func() {}
}

func (m *fakeBTManager) ListenToConnectedDevices(ch chan<- []bt.BTDevice) func() {
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()
	return func() {}
}

func (m *fakeBTManager) notifyConnected() {
	connected := m.GetConnectedDevices()
	m.mu.Lock()
	listeners := append([]chan<- []bt.BTDevice(nil), m.listeners...)
	m.mu.Unlock()
	for _, ch := range listeners {
		select {
		case ch <- connected:
		default:
		}
	}
}

func (m *fakeBTManager) Shutdown() {}

var _ bt.BTManagerInterface = (*fakeBTManager)(nil)
