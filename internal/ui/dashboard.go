// Package ui renders the terminal dashboard: scan results on the left,
// live metrics in the middle, logs on the right.
package ui

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/ride-engine/internal/bt"
	"github.com/lowaak/ride-engine/internal/go_func_utils"
	"github.com/lowaak/ride-engine/internal/metrics"
	"github.com/lowaak/ride-engine/internal/session"
	"github.com/lowaak/ride-engine/internal/trainer"
)

type Dashboard struct {
	logger        *log.Logger
	app           *tview.Application
	deviceManager *trainer.DeviceManager
	rideSession   *session.Session

	deviceList  *tview.List
	metricsView *tview.TextView
	logView     *tview.TextView

	mu          sync.Mutex
	scanDevices []bt.BTDevice

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDashboard(logger *log.Logger, deviceManager *trainer.DeviceManager, rideSession *session.Session) *Dashboard {
	if logger == nil {
		panic("Dashboard: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dashboard{
		logger:        logger,
		app:           tview.NewApplication(),
		deviceManager: deviceManager,
		rideSession:   rideSession,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Run builds the widgets and blocks until the user quits.
func (d *Dashboard) Run() error {
	d.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	d.logView.SetBorder(true).SetTitle(" Logs ")

	d.metricsView = tview.NewTextView().
		SetDynamicColors(true)
	d.metricsView.SetBorder(true).SetTitle(" Ride ")

	d.deviceList = tview.NewList().
		ShowSecondaryText(false).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			d.connectSelected(index)
		})
	d.deviceList.SetBorder(true).SetTitle(" Devices (Enter to connect) ")

	flex := tview.NewFlex().
		AddItem(d.deviceList, 0, 1, true).
		AddItem(d.metricsView, 0, 2, false).
		AddItem(d.logView, 0, 1, false)

	d.app.SetInputCapture(d.handleKey)

	d.watchScanResults()
	d.refreshMetricsLoop()

	d.logLine("s scan | enter connect | b begin | space pause | f finish | q quit")
	d.deviceManager.StartDiscovery()
	d.logLine("scanning for sensors")

	err := d.app.SetRoot(flex, true).SetFocus(d.deviceList).Run()

	d.cancel()
	d.wg.Wait()
	return err
}

func (d *Dashboard) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch {
	case event.Key() == tcell.KeyEscape || event.Rune() == 'q':
		d.app.Stop()
		return nil
	case event.Rune() == 's':
		d.toggleScan()
		return nil
	case event.Rune() == 'b':
		d.beginRecording()
		return nil
	case event.Rune() == ' ':
		d.togglePause()
		return nil
	case event.Rune() == 'f':
		if err := d.rideSession.Finish(); err != nil {
			d.logLine("finish: %v", err)
		} else {
			d.logLine("ride finished")
		}
		return nil
	}
	return event
}

func (d *Dashboard) toggleScan() {
	if d.deviceManager.IsDiscovering() {
		if err := d.deviceManager.StopDiscovery(); err != nil {
			d.logLine("stop scan: %v", err)
			return
		}
		d.logLine("scan stopped")
		return
	}
	d.deviceManager.StartDiscovery()
	d.logLine("scanning for sensors")
}

func (d *Dashboard) beginRecording() {
	// First press readies a pending session, second starts recording.
	switch d.rideSession.State() {
	case session.StatePending:
		if err := d.rideSession.MarkReady(); err != nil {
			d.logLine("ready: %v", err)
		}
	case session.StateReady:
		if err := d.rideSession.Start(); err != nil {
			d.logLine("start: %v", err)
		}
	default:
		d.logLine("session is %s", d.rideSession.State())
	}
}

func (d *Dashboard) togglePause() {
	switch d.rideSession.State() {
	case session.StateRecording:
		if err := d.rideSession.Pause(); err != nil {
			d.logLine("pause: %v", err)
		}
	case session.StatePaused:
		if err := d.rideSession.Resume(); err != nil {
			d.logLine("resume: %v", err)
		}
	}
}

func (d *Dashboard) connectSelected(index int) {
	d.mu.Lock()
	var address string
	if index < len(d.scanDevices) {
		address = d.scanDevices[index].GetAddressString()
	}
	d.mu.Unlock()
	if address == "" {
		return
	}

	d.logLine("connecting to %s", address)
	d.wg.Add(1)
	go_func_utils.SafeGo(d.logger, func() {
		defer d.wg.Done()
		if err := d.deviceManager.ConnectDevice(address); err != nil {
			d.logLine("connect %s: %v", address, err)
			return
		}
		d.logLine("connected to %s", address)
		d.rideSession.HandleSensorConnected()
	})
}

func (d *Dashboard) watchScanResults() {
	scanCh := make(chan []bt.BTDevice, 4)
	unsubscribe := d.deviceManager.ListenToScanResults(scanCh)

	d.wg.Add(1)
	go_func_utils.SafeGo(d.logger, func() {
		defer d.wg.Done()
		defer unsubscribe()

		for {
			select {
			case <-d.ctx.Done():
				return
			case devices := <-scanCh:
				d.mu.Lock()
				d.scanDevices = devices
				d.mu.Unlock()
				d.app.QueueUpdateDraw(func() {
					d.deviceList.Clear()
					for _, device := range devices {
						rssi, _ := device.GetScanRSSI()
						d.deviceList.AddItem(
							fmt.Sprintf("%s (%s) [RSSI: %d]", device.GetLocalName(), device.GetAddressString(), rssi),
							"", 0, nil)
					}
				})
			}
		}
	})
}

func (d *Dashboard) refreshMetricsLoop() {
	d.wg.Add(1)
	go_func_utils.SafeGo(d.logger, func() {
		defer d.wg.Done()

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				snap := d.rideSession.Snapshot()
				state := d.rideSession.State()
				text := renderMetrics(state, snap)
				d.app.QueueUpdateDraw(func() {
					d.metricsView.SetText(text)
				})
			}
		}
	})
}

func renderMetrics(state session.State, snap metrics.SimplifiedMetrics) string {
	return fmt.Sprintf(
		"[yellow]%s[white]\n\n"+
			"Power      %5.0f W   (avg %.0f / max %.0f)\n"+
			"Heart rate %5.0f bpm (avg %.0f / max %.0f)\n"+
			"Cadence    %5.0f rpm (avg %.0f / max %.0f)\n"+
			"Speed      %5.1f m/s (avg %.1f / max %.1f)\n\n"+
			"Elapsed  %s   Moving %s\n"+
			"Distance %.2f km   Work %.0f kJ\n"+
			"Ascent   %.0f m    Descent %.0f m\n\n"+
			"NP  %.0f W   IF %.2f   TSS %.1f\n"+
			"VI  %.2f     EF %.2f",
		state,
		snap.PowerWatts, snap.AvgPowerWatts, snap.MaxPowerWatts,
		snap.HeartRateBpm, snap.AvgHeartRateBpm, snap.MaxHeartRateBpm,
		snap.CadenceRpm, snap.AvgCadenceRpm, snap.MaxCadenceRpm,
		snap.SpeedMps, snap.AvgSpeedMps, snap.MaxSpeedMps,
		formatSeconds(snap.ElapsedSeconds), formatSeconds(snap.MovingSeconds),
		snap.DistanceMeters/1000, snap.WorkKilojoules,
		snap.AscentMeters, snap.DescentMeters,
		snap.NormalizedPowerWatts, snap.IntensityFactor, snap.TrainingStressScore,
		snap.VariabilityIndex, snap.EfficiencyFactor,
	)
}

func formatSeconds(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// logLine appends a timestamped line to the log pane and the file log.
func (d *Dashboard) logLine(format string, args ...interface{}) {
	message := fmt.Sprintf("[%s] %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	fmt.Fprint(d.logView, message)
	d.logger.Printf("Dashboard: %s", fmt.Sprintf(format, args...))
}
