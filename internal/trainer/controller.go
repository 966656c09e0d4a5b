package trainer

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/ride-engine/internal/events"
	"github.com/lowaak/ride-engine/internal/ftms"
)

// ControlPhase tracks how far control bring-up has progressed on one
// machine. Disconnects drop the phase back to uninitialized; nothing is
// assumed to survive a reconnect.
type ControlPhase int

const (
	PhaseUninitialized ControlPhase = iota
	PhaseFeaturesKnown
	PhaseControlGranted
)

func (p ControlPhase) String() string {
	switch p {
	case PhaseFeaturesKnown:
		return "features known"
	case PhaseControlGranted:
		return "control granted"
	default:
		return "uninitialized"
	}
}

// ControlMode is the target mode the machine is currently holding.
type ControlMode int

const (
	ModeUnset ControlMode = iota
	ModeERG
	ModeSIM
	ModeResistance
)

func (m ControlMode) String() string {
	switch m {
	case ModeERG:
		return "erg"
	case ModeSIM:
		return "sim"
	case ModeResistance:
		return "resistance"
	default:
		return "unset"
	}
}

// ControlEvent records the outcome of one control operation for the UI
// and the log.
type ControlEvent struct {
	Timestamp time.Time
	Command   string
	Success   bool
	Detail    string
}

// ErrWriteInFlight is returned when a control operation arrives while a
// previous one is still being written or cooling down. Callers get the
// rejection immediately; nothing is queued.
var ErrWriteInFlight = errors.New("control write already in flight")

const (
	defaultResponseTimeout = 2 * time.Second
	defaultBackoffBase     = 250 * time.Millisecond
	defaultWriteCooldown   = 500 * time.Millisecond
	controlEventLogLimit   = 32
)

// ControllerTiming tunes the write/retry clocks. Zero fields fall back
// to the defaults; tests shrink them.
type ControllerTiming struct {
	ResponseTimeout time.Duration
	BackoffBase     time.Duration
	WriteCooldown   time.Duration
}

func (t ControllerTiming) withDefaults() ControllerTiming {
	if t.ResponseTimeout <= 0 {
		t.ResponseTimeout = defaultResponseTimeout
	}
	if t.BackoffBase <= 0 {
		t.BackoffBase = defaultBackoffBase
	}
	if t.WriteCooldown <= 0 {
		t.WriteCooldown = defaultWriteCooldown
	}
	return t
}

// DeviceController drives one controllable trainer through its FTMS
// control point. All writes are capability-checked and serialized: a
// second operation while one is in flight is rejected, never queued,
// and the in-flight flag covers the full retry sequence plus a short
// cooldown so the machine is not flooded after a failure.
type DeviceController struct {
	logger    *log.Logger
	transport ControlTransport
	timing    ControllerTiming

	mu              sync.Mutex
	phase           ControlPhase
	mode            ControlMode
	feature         ftms.MachineFeature
	powerRange      ftms.PowerRange
	hasPowerRange   bool
	writeInFlight   bool
	writeGeneration uint64
	eventLog        []ControlEvent

	responseCh chan ftms.ControlResponse

	statusEvent  *events.CallbackEvent[ftms.StatusEvent]
	controlEvent *events.CallbackEvent[ControlEvent]
}

func NewDeviceController(logger *log.Logger, transport ControlTransport) *DeviceController {
	return NewDeviceControllerWithTiming(logger, transport, ControllerTiming{})
}

func NewDeviceControllerWithTiming(logger *log.Logger, transport ControlTransport, timing ControllerTiming) *DeviceController {
	if logger == nil {
		panic("DeviceController: logger cannot be nil")
	}
	if transport == nil {
		panic("DeviceController: transport cannot be nil")
	}
	return &DeviceController{
		logger:       logger,
		transport:    transport,
		timing:       timing.withDefaults(),
		responseCh:   make(chan ftms.ControlResponse, 4),
		statusEvent:  events.NewCallbackEvent[ftms.StatusEvent](false),
		controlEvent: events.NewCallbackEvent[ControlEvent](false),
	}
}

// Initialize reads the machine's capabilities, subscribes to control
// point indications and status notifications, and requests control.
// Must complete before any target can be set.
func (c *DeviceController) Initialize() error {
	featureBuf, err := c.transport.ReadFeature()
	if err != nil {
		return fmt.Errorf("failed to read machine features: %w", err)
	}
	feature, err := ftms.DecodeMachineFeature(featureBuf)
	if err != nil {
		return fmt.Errorf("failed to decode machine features: %w", err)
	}

	c.mu.Lock()
	c.feature = feature
	c.phase = PhaseFeaturesKnown
	c.mu.Unlock()
	c.logger.Printf("DeviceController[%s]: features power=%v sim=%v resistance=%v",
		c.transport.Address(), feature.SupportsPowerTarget, feature.SupportsSimulation, feature.SupportsResistanceTarget)

	if feature.SupportsPowerTarget {
		if rangeBuf, err := c.transport.ReadPowerRange(); err == nil {
			if r, err := ftms.DecodePowerRange(rangeBuf); err == nil {
				c.mu.Lock()
				c.powerRange = r
				c.hasPowerRange = true
				c.mu.Unlock()
				c.logger.Printf("DeviceController[%s]: power range %d..%dW", c.transport.Address(), r.MinWatts, r.MaxWatts)
			}
		} else {
			// The range is an optimization for clamping; control still works.
			c.logger.Printf("DeviceController[%s]: power range unavailable: %v", c.transport.Address(), err)
		}
	}

	if err := c.transport.SubscribeControlPoint(c.onControlPointIndication); err != nil {
		return fmt.Errorf("failed to subscribe to control point: %w", err)
	}
	if err := c.transport.SubscribeStatus(c.onStatusNotification); err != nil {
		return fmt.Errorf("failed to subscribe to machine status: %w", err)
	}

	if err := c.execute(ftms.RequestControl{}); err != nil {
		return fmt.Errorf("control not granted: %w", err)
	}

	c.mu.Lock()
	c.phase = PhaseControlGranted
	c.mu.Unlock()
	c.logger.Printf("DeviceController[%s]: control granted", c.transport.Address())
	return nil
}

// Phase returns the current bring-up phase.
func (c *DeviceController) Phase() ControlPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Mode returns the mode the machine is currently believed to hold.
func (c *DeviceController) Mode() ControlMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Feature returns the decoded machine capabilities.
func (c *DeviceController) Feature() ftms.MachineFeature {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feature
}

// ListenStatus registers a callback for decoded machine status events.
func (c *DeviceController) ListenStatus(callback func(ftms.StatusEvent)) func() {
	return c.statusEvent.Listen(callback)
}

// ListenControlEvents registers a callback for control operation outcomes.
func (c *DeviceController) ListenControlEvents(callback func(ControlEvent)) func() {
	return c.controlEvent.Listen(callback)
}

// RecentControlEvents returns a copy of the bounded control event log,
// oldest first.
func (c *DeviceController) RecentControlEvents() []ControlEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ControlEvent(nil), c.eventLog...)
}

// SetTargetPower puts the machine in ERG mode holding the given power.
// The target is clamped to the machine's supported range when known.
func (c *DeviceController) SetTargetPower(watts int16) error {
	c.mu.Lock()
	if err := c.requireCapabilityLocked(c.feature.SupportsPowerTarget, "power target"); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.hasPowerRange {
		watts = c.powerRange.Clamp(watts)
	}
	c.mu.Unlock()

	return c.executeModeSwitch(ftms.SetTargetPower{Watts: watts}, ModeERG)
}

// SetSimulationParameters puts the machine in SIM mode with the given
// virtual riding situation.
func (c *DeviceController) SetSimulationParameters(params ftms.SetSimulationParameters) error {
	c.mu.Lock()
	if err := c.requireCapabilityLocked(c.feature.SupportsSimulation, "simulation"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	return c.executeModeSwitch(params, ModeSIM)
}

// SetTargetResistance puts the machine in basic resistance mode.
func (c *DeviceController) SetTargetResistance(level float64) error {
	c.mu.Lock()
	if err := c.requireCapabilityLocked(c.feature.SupportsResistanceTarget, "resistance target"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	return c.executeModeSwitch(ftms.SetTargetResistance{Level: level}, ModeResistance)
}

// ResetControl returns the machine to its default behavior.
func (c *DeviceController) ResetControl() error {
	c.mu.Lock()
	if c.phase != PhaseControlGranted {
		c.mu.Unlock()
		return fmt.Errorf("cannot reset: %s", c.phase)
	}
	c.mu.Unlock()

	if err := c.execute(ftms.Reset{}); err != nil {
		return err
	}
	c.mu.Lock()
	c.mode = ModeUnset
	c.mu.Unlock()
	return nil
}

// HandleDisconnect drops all control state. Called by the device manager
// when the underlying connection goes away. An in-flight write is left
// to fail through transport errors and release its own claim; freeing
// the claim here would let a fresh write race the stale sequence's wait
// on the response channel.
func (c *DeviceController) HandleDisconnect() {
	c.mu.Lock()
	c.phase = PhaseUninitialized
	c.mode = ModeUnset
	c.hasPowerRange = false
	c.mu.Unlock()
	c.logger.Printf("DeviceController[%s]: disconnected, control state dropped", c.transport.Address())
}

func (c *DeviceController) requireCapabilityLocked(supported bool, name string) error {
	if c.phase != PhaseControlGranted {
		return fmt.Errorf("cannot set %s: %s", name, c.phase)
	}
	if !supported {
		return fmt.Errorf("machine does not support %s", name)
	}
	return nil
}

// executeModeSwitch runs a target write, preceded by a reset when the
// machine is holding a different mode. Both writes happen under a single
// in-flight claim so another caller cannot slip between them.
func (c *DeviceController) executeModeSwitch(cmd ftms.Command, target ControlMode) error {
	generation, err := c.claimWrite()
	if err != nil {
		return err
	}
	defer c.releaseWriteAfterCooldown(generation)

	c.mu.Lock()
	needsReset := c.mode != ModeUnset && c.mode != target
	c.mu.Unlock()

	if needsReset {
		if err := c.writeWithRetries(ftms.Reset{}); err != nil {
			c.recordEvent(cmd.String(), false, fmt.Sprintf("reset before mode switch failed: %v", err))
			return fmt.Errorf("reset before mode switch failed: %w", err)
		}
		c.mu.Lock()
		c.mode = ModeUnset
		c.mu.Unlock()
	}

	if err := c.writeWithRetries(cmd); err != nil {
		c.recordEvent(cmd.String(), false, err.Error())
		return err
	}

	c.mu.Lock()
	c.mode = target
	c.mu.Unlock()
	c.recordEvent(cmd.String(), true, "")
	return nil
}

// execute runs a single command under its own in-flight claim.
func (c *DeviceController) execute(cmd ftms.Command) error {
	generation, err := c.claimWrite()
	if err != nil {
		return err
	}
	defer c.releaseWriteAfterCooldown(generation)

	if err := c.writeWithRetries(cmd); err != nil {
		c.recordEvent(cmd.String(), false, err.Error())
		return err
	}
	c.recordEvent(cmd.String(), true, "")
	return nil
}

// claimWrite takes the in-flight flag and tags the claim with a
// generation so only the owning sequence can release it.
func (c *DeviceController) claimWrite() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeInFlight {
		return 0, ErrWriteInFlight
	}
	c.writeInFlight = true
	c.writeGeneration++
	return c.writeGeneration, nil
}

// releaseWriteAfterCooldown keeps the in-flight claim for a short period
// after the operation finishes so a failed sequence cannot be hammered.
func (c *DeviceController) releaseWriteAfterCooldown(generation uint64) {
	time.AfterFunc(c.timing.WriteCooldown, func() {
		c.mu.Lock()
		if c.writeGeneration == generation {
			c.writeInFlight = false
		}
		c.mu.Unlock()
	})
}

func (c *DeviceController) writeWithRetries(cmd ftms.Command) error {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(writeBackoff(c.timing.BackoffBase, attempt-1))
		}
		if !c.transport.IsConnected() {
			return errors.New("device not connected")
		}

		lastErr = c.writeOnce(cmd)
		if lastErr == nil {
			return nil
		}
		c.logger.Printf("DeviceController[%s]: %s attempt %d/%d failed: %v",
			c.transport.Address(), cmd, attempt, maxWriteAttempts, lastErr)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", cmd, maxWriteAttempts, lastErr)
}

func (c *DeviceController) writeOnce(cmd ftms.Command) error {
	c.drainResponses()

	if err := c.transport.WriteControlPoint(ftms.EncodeCommand(cmd)); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	deadline := time.After(c.timing.ResponseTimeout)
	for {
		select {
		case resp := <-c.responseCh:
			if !resp.MatchesCommand(cmd) {
				// A stale response from an earlier attempt; keep waiting.
				continue
			}
			if !resp.Success() {
				return fmt.Errorf("machine rejected %s: %s", cmd, ftms.ResultName(resp.Result))
			}
			return nil
		case <-deadline:
			return errors.New("timeout waiting for control response")
		}
	}
}

func (c *DeviceController) drainResponses() {
	for {
		select {
		case <-c.responseCh:
		default:
			return
		}
	}
}

func (c *DeviceController) onControlPointIndication(buf []byte) {
	resp, err := ftms.DecodeResponse(buf)
	if err != nil {
		c.logger.Printf("DeviceController[%s]: bad control indication: %v", c.transport.Address(), err)
		return
	}
	select {
	case c.responseCh <- resp:
	default:
		c.logger.Printf("DeviceController[%s]: dropping unawaited control response for op 0x%02x",
			c.transport.Address(), resp.RequestOpCode)
	}
}

// onStatusNotification decodes a machine status notification, reconciles
// the local mode with what the machine reports, and fans the event out.
// The machine is authoritative: a target changed from its own console
// moves the mode here too.
func (c *DeviceController) onStatusNotification(buf []byte) {
	event, err := ftms.DecodeStatus(buf)
	if err != nil {
		c.logger.Printf("DeviceController[%s]: bad status notification: %v", c.transport.Address(), err)
		return
	}

	c.mu.Lock()
	switch event.Kind {
	case ftms.StatusPowerChanged:
		c.mode = ModeERG
	case ftms.StatusSimulationChanged:
		c.mode = ModeSIM
	case ftms.StatusResistanceChanged:
		c.mode = ModeResistance
	case ftms.StatusReset, ftms.StatusStoppedByUser, ftms.StatusStoppedBySafetyKey:
		c.mode = ModeUnset
	case ftms.StatusUnknown:
		c.logger.Printf("DeviceController[%s]: unknown status op 0x%02x", c.transport.Address(), event.RawOpCode)
	}
	c.mu.Unlock()

	c.statusEvent.Notify(event)
}

func (c *DeviceController) recordEvent(command string, success bool, detail string) {
	event := ControlEvent{
		Timestamp: time.Now(),
		Command:   command,
		Success:   success,
		Detail:    detail,
	}

	c.mu.Lock()
	c.eventLog = append(c.eventLog, event)
	if len(c.eventLog) > controlEventLogLimit {
		c.eventLog = c.eventLog[len(c.eventLog)-controlEventLogLimit:]
	}
	c.mu.Unlock()

	c.controlEvent.Notify(event)
}
