package trainer

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/ride-engine/internal/ftms"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fastTiming() ControllerTiming {
	return ControllerTiming{
		ResponseTimeout: 100 * time.Millisecond,
		BackoffBase:     time.Millisecond,
		WriteCooldown:   10 * time.Millisecond,
	}
}

func allFeatures() ftms.MachineFeature {
	return ftms.MachineFeature{
		SupportsResistanceTarget: true,
		SupportsPowerTarget:      true,
		SupportsSimulation:       true,
	}
}

// newReadyController returns an initialized controller with control
// granted and the bring-up writes cleared from the transport log.
func newReadyController(t *testing.T, feature ftms.MachineFeature) (*DeviceController, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport(feature)
	controller := NewDeviceControllerWithTiming(testLogger(), transport, fastTiming())
	require.NoError(t, controller.Initialize())
	require.Equal(t, PhaseControlGranted, controller.Phase())

	waitForCooldown(t, controller)
	transport.mu.Lock()
	transport.writes = nil
	transport.mu.Unlock()
	return controller, transport
}

func waitForCooldown(t *testing.T, controller *DeviceController) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		controller.mu.Lock()
		inFlight := controller.writeInFlight
		controller.mu.Unlock()
		if !inFlight {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("write never left flight")
}

func TestController_InitializeRequestsControl(t *testing.T) {
	transport := newFakeTransport(allFeatures())
	controller := NewDeviceControllerWithTiming(testLogger(), transport, fastTiming())

	require.NoError(t, controller.Initialize())

	assert.Equal(t, PhaseControlGranted, controller.Phase())
	assert.Equal(t, []byte{0x00}, transport.writtenOpCodes())
	assert.True(t, controller.Feature().SupportsPowerTarget)
}

func TestController_InitializeFailsWhenControlDenied(t *testing.T) {
	transport := newFakeTransport(allFeatures())
	transport.respond = func(f *fakeTransport, payload []byte) {
		f.ack(payload[0], ftms.ResultControlNotPermitted)
	}
	controller := NewDeviceControllerWithTiming(testLogger(), transport, fastTiming())

	err := controller.Initialize()
	require.Error(t, err)
	assert.Equal(t, PhaseFeaturesKnown, controller.Phase())
}

func TestController_SetTargetPowerWritesERGCommand(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	require.NoError(t, controller.SetTargetPower(250))

	assert.Equal(t, ModeERG, controller.Mode())
	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.writes, 1)
	assert.Equal(t, []byte{0x05, 0xFA, 0x00}, transport.writes[0])
}

func TestController_SetTargetPowerClampsToSupportedRange(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	// Fake advertises 10..1000W.
	require.NoError(t, controller.SetTargetPower(1500))

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.writes, 1)
	assert.Equal(t, []byte{0x05, 0xE8, 0x03}, transport.writes[0])
}

func TestController_UnsupportedTargetProducesNoWrite(t *testing.T) {
	controller, transport := newReadyController(t, ftms.MachineFeature{
		SupportsPowerTarget: true,
	})

	err := controller.SetSimulationParameters(ftms.SetSimulationParameters{GradePercent: 5})
	require.Error(t, err)
	err = controller.SetTargetResistance(4.5)
	require.Error(t, err)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Empty(t, transport.writes)
}

func TestController_WriteBeforeControlGrantedFails(t *testing.T) {
	transport := newFakeTransport(allFeatures())
	controller := NewDeviceControllerWithTiming(testLogger(), transport, fastTiming())

	err := controller.SetTargetPower(200)
	require.Error(t, err)
	assert.Empty(t, transport.writes)
}

func TestController_SecondWriteWhileInFlightIsRejected(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	release := make(chan struct{})
	transport.respond = func(f *fakeTransport, payload []byte) {
		<-release
		f.ack(payload[0], ftms.ResultSuccess)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	firstErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		firstErr <- controller.SetTargetPower(200)
	}()

	// Wait until the first write has claimed the flight.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		controller.mu.Lock()
		inFlight := controller.writeInFlight
		controller.mu.Unlock()
		if inFlight {
			break
		}
		time.Sleep(time.Millisecond)
	}

	err := controller.SetTargetPower(300)
	assert.ErrorIs(t, err, ErrWriteInFlight)

	close(release)
	wg.Wait()
	assert.NoError(t, <-firstErr)
}

func TestController_LockReleasesAfterCooldown(t *testing.T) {
	controller, _ := newReadyController(t, allFeatures())

	require.NoError(t, controller.SetTargetPower(200))
	waitForCooldown(t, controller)
	assert.NoError(t, controller.SetTargetPower(210))
}

func TestController_RetriesFailedWritesWithBackoff(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	attempts := 0
	transport.respond = func(f *fakeTransport, payload []byte) {
		attempts++
		if attempts < 3 {
			f.ack(payload[0], ftms.ResultOperationFailed)
			return
		}
		f.ack(payload[0], ftms.ResultSuccess)
	}

	require.NoError(t, controller.SetTargetPower(200))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, ModeERG, controller.Mode())
}

func TestController_GivesUpAfterMaxAttempts(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	transport.respond = func(f *fakeTransport, payload []byte) {
		f.ack(payload[0], ftms.ResultOperationFailed)
	}

	err := controller.SetTargetPower(200)
	require.Error(t, err)
	assert.Len(t, transport.writtenOpCodes(), maxWriteAttempts)
	assert.Equal(t, ModeUnset, controller.Mode())
}

func TestController_ResetPrecedesModeSwitch(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	require.NoError(t, controller.SetTargetPower(200))
	waitForCooldown(t, controller)
	require.NoError(t, controller.SetTargetResistance(4.0))

	assert.Equal(t, ModeResistance, controller.Mode())
	// ERG set, then reset + resistance for the switch.
	assert.Equal(t, []byte{0x05, 0x01, 0x04}, transport.writtenOpCodes())
}

func TestController_SameModeDoesNotReset(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	require.NoError(t, controller.SetTargetPower(200))
	waitForCooldown(t, controller)
	require.NoError(t, controller.SetTargetPower(250))

	assert.Equal(t, []byte{0x05, 0x05}, transport.writtenOpCodes())
}

func TestController_StatusNotificationsReconcileMode(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	var mu sync.Mutex
	var seen []ftms.StatusKind
	controller.ListenStatus(func(event ftms.StatusEvent) {
		mu.Lock()
		seen = append(seen, event.Kind)
		mu.Unlock()
	})

	// The rider changed the target from the trainer's own console.
	transport.pushStatus([]byte{0x08, 0xC8, 0x00})
	assert.Equal(t, ModeERG, controller.Mode())

	transport.pushStatus([]byte{0x01})
	assert.Equal(t, ModeUnset, controller.Mode())

	// Unknown status ops surface as events, never dropped.
	transport.pushStatus([]byte{0xF3})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, ftms.StatusPowerChanged, seen[0])
	assert.Equal(t, ftms.StatusReset, seen[1])
	assert.Equal(t, ftms.StatusUnknown, seen[2])
}

func TestController_DisconnectDropsControlState(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	require.NoError(t, controller.SetTargetPower(200))
	waitForCooldown(t, controller)

	transport.setConnected(false)
	controller.HandleDisconnect()

	assert.Equal(t, PhaseUninitialized, controller.Phase())
	assert.Equal(t, ModeUnset, controller.Mode())

	err := controller.SetTargetPower(200)
	require.Error(t, err)
}

func TestController_DisconnectLeavesStaleWriteClaimToItsOwner(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	// Responses never arrive: the sequence runs into its timeouts.
	transport.mu.Lock()
	transport.respond = func(*fakeTransport, []byte) {}
	transport.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- controller.SetTargetPower(200) }()

	// Wait until the write has claimed the flight.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		controller.mu.Lock()
		inFlight := controller.writeInFlight
		controller.mu.Unlock()
		if inFlight {
			break
		}
		time.Sleep(time.Millisecond)
	}

	controller.HandleDisconnect()
	assert.Equal(t, PhaseUninitialized, controller.Phase())

	// The stale sequence still owns the claim; bringing control back up
	// cannot start a concurrent control point write.
	err := controller.Initialize()
	assert.ErrorIs(t, err, ErrWriteInFlight)

	require.Error(t, <-done)
	waitForCooldown(t, controller)

	transport.mu.Lock()
	transport.respond = nil
	transport.mu.Unlock()
	require.NoError(t, controller.Initialize())
	assert.Equal(t, PhaseControlGranted, controller.Phase())
}

func TestController_RecordsControlEvents(t *testing.T) {
	controller, transport := newReadyController(t, allFeatures())

	require.NoError(t, controller.SetTargetPower(200))
	waitForCooldown(t, controller)

	transport.respond = func(f *fakeTransport, payload []byte) {
		f.ack(payload[0], ftms.ResultControlNotPermitted)
	}
	require.Error(t, controller.SetTargetResistance(3.0))

	eventLog := controller.RecentControlEvents()
	require.NotEmpty(t, eventLog)
	last := eventLog[len(eventLog)-1]
	assert.False(t, last.Success)
	assert.NotEmpty(t, last.Detail)
}
