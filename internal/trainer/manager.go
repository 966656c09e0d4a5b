package trainer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/ride-engine/internal/bt"
	"github.com/lowaak/ride-engine/internal/events"
	"github.com/lowaak/ride-engine/internal/ftms"
	"github.com/lowaak/ride-engine/internal/go_func_utils"
	"github.com/lowaak/ride-engine/internal/telemetry"
)

// SampleSink receives every validated sample. Satisfied by the metrics
// aggregator.
type SampleSink interface {
	Ingest(sample telemetry.ValidatedSample)
}

// knownServiceUUIDs is the scan filter: only devices advertising one of
// the cycling services are surfaced.
func knownServiceUUIDs() []string {
	return []string{
		HeartRateServiceUUID,
		CSCServiceUUID,
		CyclingPowerServiceUUID,
		ftms.ServiceUUID,
	}
}

const connectTimeout = 10 * time.Second

// DeviceManager connects cycling sensors, routes their notifications
// through parsing and validation into the sample sink, and brings up a
// DeviceController for each controllable trainer. Target setters
// delegate to the active controller and fail without one.
type DeviceManager struct {
	logger    *log.Logger
	btManager bt.BTManagerInterface
	validator *telemetry.Validator
	sink      SampleSink

	mu          sync.Mutex
	crankStates map[string]*telemetry.CrankState
	controllers map[string]*DeviceController
	powerSource string // address of the dedicated power meter, if any
	connected   map[string]bool

	statusEvent *events.CallbackEvent[ftms.StatusEvent]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDeviceManager(logger *log.Logger, btManager bt.BTManagerInterface, validator *telemetry.Validator, sink SampleSink) *DeviceManager {
	if logger == nil {
		panic("DeviceManager: logger cannot be nil")
	}
	if btManager == nil {
		panic("DeviceManager: btManager cannot be nil")
	}
	if validator == nil {
		panic("DeviceManager: validator cannot be nil")
	}
	if sink == nil {
		panic("DeviceManager: sink cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DeviceManager{
		logger:      logger,
		btManager:   btManager,
		validator:   validator,
		sink:        sink,
		crankStates: make(map[string]*telemetry.CrankState),
		controllers: make(map[string]*DeviceController),
		connected:   make(map[string]bool),
		statusEvent: events.NewCallbackEvent[ftms.StatusEvent](false),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start enables the adapter and begins watching for disconnects.
func (m *DeviceManager) Start() error {
	if err := m.btManager.Enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth: %w", err)
	}

	connectedCh := make(chan []bt.BTDevice, 4)
	unsubscribe := m.btManager.ListenToConnectedDevices(connectedCh)

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		defer unsubscribe()

		for {
			select {
			case <-m.ctx.Done():
				return
			case devices := <-connectedCh:
				m.reconcileConnected(devices)
			}
		}
	})
	return nil
}

// StartDiscovery scans for devices advertising a cycling service.
func (m *DeviceManager) StartDiscovery() {
	m.btManager.StartScan(knownServiceUUIDs())
}

func (m *DeviceManager) StopDiscovery() error {
	return m.btManager.StopScan()
}

func (m *DeviceManager) IsDiscovering() bool {
	return m.btManager.IsScanning()
}

// ListenToScanResults registers a channel for scan device list updates.
func (m *DeviceManager) ListenToScanResults(ch chan<- []bt.BTDevice) func() {
	return m.btManager.ListenToDeviceList(ch)
}

// ListenStatus registers a callback for machine status events from any
// connected trainer.
func (m *DeviceManager) ListenStatus(callback func(ftms.StatusEvent)) func() {
	return m.statusEvent.Listen(callback)
}

// ConnectDevice connects by address and wires up every recognized
// service the device advertises.
func (m *DeviceManager) ConnectDevice(address string) error {
	device := m.btManager.GetBTDeviceByAddressString(address)
	if device == nil {
		return fmt.Errorf("unknown device %s", address)
	}

	if err := m.btManager.Connect(device); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	if err := device.WaitForConnection(connectTimeout); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	m.mu.Lock()
	m.connected[address] = true
	m.mu.Unlock()

	return m.setupDevice(device)
}

// DisconnectDevice drops the connection; cleanup happens through the
// connected-devices watcher.
func (m *DeviceManager) DisconnectDevice(address string) error {
	device := m.btManager.GetBTDeviceByAddressString(address)
	if device == nil {
		return fmt.Errorf("unknown device %s", address)
	}
	return m.btManager.Disconnect(device)
}

// setupDevice subscribes to every recognized service on the device.
// A device may expose several at once (a trainer typically has FTMS and
// cycling power).
func (m *DeviceManager) setupDevice(device bt.BTDevice) error {
	address := device.GetAddressString()
	recognized := false

	if device.HasServiceUUID(HeartRateServiceUUID) {
		recognized = true
		if err := m.subscribeHeartRate(device); err != nil {
			m.logger.Printf("DeviceManager: heart rate setup failed for %s: %v", address, err)
		}
	}
	if device.HasServiceUUID(CSCServiceUUID) {
		recognized = true
		if err := m.subscribeCadence(device); err != nil {
			m.logger.Printf("DeviceManager: cadence setup failed for %s: %v", address, err)
		}
	}
	if device.HasServiceUUID(CyclingPowerServiceUUID) {
		recognized = true
		if err := m.subscribePower(device); err != nil {
			m.logger.Printf("DeviceManager: power setup failed for %s: %v", address, err)
		}
	}
	if device.HasServiceUUID(ftms.ServiceUUID) {
		recognized = true
		if err := m.setupTrainer(device); err != nil {
			m.logger.Printf("DeviceManager: trainer setup failed for %s: %v", address, err)
		}
	}

	if !recognized {
		return fmt.Errorf("device %s advertises no recognized cycling service", address)
	}
	return nil
}

func (m *DeviceManager) subscribeHeartRate(device bt.BTDevice) error {
	address := device.GetAddressString()
	return device.EnableNotifications(HeartRateServiceUUID, HeartRateMeasurementUUID, func(buf []byte) {
		bpm, err := telemetry.ParseHeartRate(buf)
		if err != nil {
			m.logger.Printf("DeviceManager: bad heart rate data from %s: %v", address, err)
			return
		}
		m.forward(telemetry.MetricHeartRate, bpm, address)
	})
}

func (m *DeviceManager) subscribeCadence(device bt.BTDevice) error {
	address := device.GetAddressString()

	m.mu.Lock()
	state, ok := m.crankStates[address]
	if !ok {
		state = &telemetry.CrankState{}
		m.crankStates[address] = state
	}
	m.mu.Unlock()

	return device.EnableNotifications(CSCServiceUUID, CSCMeasurementUUID, func(buf []byte) {
		rpm, ok, err := state.ParseCadence(buf)
		if err != nil {
			m.logger.Printf("DeviceManager: bad CSC data from %s: %v", address, err)
			return
		}
		if ok {
			m.forward(telemetry.MetricCadence, rpm, address)
		}
	})
}

func (m *DeviceManager) subscribePower(device bt.BTDevice) error {
	address := device.GetAddressString()

	// Only a device without FTMS is a dedicated power meter; a trainer
	// exposing the cycling power service never claims the power source,
	// so a meter connecting after the trainer still takes it.
	if !device.HasServiceUUID(ftms.ServiceUUID) {
		m.mu.Lock()
		claimed := m.powerSource == ""
		if claimed {
			m.powerSource = address
		}
		m.mu.Unlock()
		if claimed {
			m.logger.Printf("DeviceManager: %s is the dedicated power source", address)
		}
	}

	return device.EnableNotifications(CyclingPowerServiceUUID, CyclingPowerMeasurementUUID, func(buf []byte) {
		watts, err := telemetry.ParseCyclingPower(buf)
		if err != nil {
			m.logger.Printf("DeviceManager: bad power data from %s: %v", address, err)
			return
		}
		m.forwardPower(watts, address)
	})
}

// setupTrainer subscribes to indoor bike data and brings up control.
// A trainer whose control bring-up fails still delivers telemetry.
func (m *DeviceManager) setupTrainer(device bt.BTDevice) error {
	address := device.GetAddressString()

	err := device.EnableNotifications(ftms.ServiceUUID, ftms.IndoorBikeDataUUID, func(buf []byte) {
		data, err := telemetry.ParseIndoorBikeData(buf)
		if err != nil {
			m.logger.Printf("DeviceManager: bad indoor bike data from %s: %v", address, err)
			return
		}
		if data.HasSpeed {
			m.forward(telemetry.MetricSpeed, data.SpeedMps, address)
		}
		if data.HasCadence {
			m.forward(telemetry.MetricCadence, data.CadenceRpm, address)
		}
		if data.HasPower {
			m.forwardPower(data.PowerWatts, address)
		}
		if data.HasHeartRate {
			m.forward(telemetry.MetricHeartRate, data.HeartRateBpm, address)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to indoor bike data: %w", err)
	}

	controller := NewDeviceController(m.logger, newBTControlTransport(device))
	controller.ListenStatus(m.statusEvent.Notify)

	if err := controller.Initialize(); err != nil {
		return fmt.Errorf("control bring-up failed: %w", err)
	}

	m.mu.Lock()
	m.controllers[address] = controller
	m.mu.Unlock()
	return nil
}

func (m *DeviceManager) forward(metric telemetry.Metric, value float64, address string) {
	sample, ok := m.validator.Validate(telemetry.SensorReading{
		Metric:        metric,
		Value:         value,
		DeviceAddress: address,
		Timestamp:     time.Now(),
	})
	if ok {
		m.sink.Ingest(sample)
	}
}

// forwardPower drops trainer-reported power while a dedicated power
// meter is connected.
func (m *DeviceManager) forwardPower(watts float64, address string) {
	m.mu.Lock()
	source := m.powerSource
	m.mu.Unlock()

	if source != "" && source != address {
		return
	}
	m.forward(telemetry.MetricPower, watts, address)
}

// reconcileConnected compares the connected device list against the
// addresses we set up and tears down state for anything that dropped.
func (m *DeviceManager) reconcileConnected(devices []bt.BTDevice) {
	current := make(map[string]bool, len(devices))
	for _, d := range devices {
		current[d.GetAddressString()] = true
	}

	m.mu.Lock()
	var dropped []string
	for address := range m.connected {
		if !current[address] {
			dropped = append(dropped, address)
			delete(m.connected, address)
		}
	}

	var droppedControllers []*DeviceController
	for _, address := range dropped {
		if controller, ok := m.controllers[address]; ok {
			droppedControllers = append(droppedControllers, controller)
			delete(m.controllers, address)
		}
		delete(m.crankStates, address)
		if m.powerSource == address {
			m.powerSource = ""
		}
	}
	m.mu.Unlock()

	for i, controller := range droppedControllers {
		m.logger.Printf("DeviceManager: lost device %s", dropped[i])
		controller.HandleDisconnect()
	}
}

// ActiveController returns the controller for the connected trainer, or
// nil when none is available.
func (m *DeviceManager) ActiveController() *DeviceController {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, controller := range m.controllers {
		return controller
	}
	return nil
}

func (m *DeviceManager) requireController() (*DeviceController, error) {
	if controller := m.ActiveController(); controller != nil {
		return controller, nil
	}
	return nil, fmt.Errorf("no controllable trainer connected")
}

// SetPowerTarget puts the connected trainer in ERG mode.
func (m *DeviceManager) SetPowerTarget(watts int16) error {
	controller, err := m.requireController()
	if err != nil {
		return err
	}
	return controller.SetTargetPower(watts)
}

// SetSimulationParameters puts the connected trainer in SIM mode.
func (m *DeviceManager) SetSimulationParameters(params ftms.SetSimulationParameters) error {
	controller, err := m.requireController()
	if err != nil {
		return err
	}
	return controller.SetSimulationParameters(params)
}

// SetResistanceTarget puts the connected trainer in basic resistance mode.
func (m *DeviceManager) SetResistanceTarget(level float64) error {
	controller, err := m.requireController()
	if err != nil {
		return err
	}
	return controller.SetTargetResistance(level)
}

// ResetControl returns the connected trainer to its default behavior.
func (m *DeviceManager) ResetControl() error {
	controller, err := m.requireController()
	if err != nil {
		return err
	}
	return controller.ResetControl()
}

// Shutdown stops the watcher and tears down the bluetooth stack.
func (m *DeviceManager) Shutdown() {
	m.cancel()
	m.btManager.Shutdown()
	m.wg.Wait()
}
