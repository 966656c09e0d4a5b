package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/ride-engine/internal/automation"
	"github.com/lowaak/ride-engine/internal/bt"
	"github.com/lowaak/ride-engine/internal/config"
	"github.com/lowaak/ride-engine/internal/ftms"
	"github.com/lowaak/ride-engine/internal/go_func_utils"
	"github.com/lowaak/ride-engine/internal/metrics"
	"github.com/lowaak/ride-engine/internal/session"
	"github.com/lowaak/ride-engine/internal/store"
	"github.com/lowaak/ride-engine/internal/telemetry"
	"github.com/lowaak/ride-engine/internal/trainer"
	"github.com/lowaak/ride-engine/internal/ui"
)

var adapter = bluetooth.DefaultAdapter

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ride-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger, logCloser := config.NewLogger(cfg.Log)
	defer logCloser.Close()
	logger.Println("ride-engine starting")

	aggregator := metrics.NewAggregator(logger, cfg.Rider.FTPWatts, cfg.Rider.ThresholdHeartRate)
	validator := telemetry.NewValidator(logger)

	btManager := bt.NewBTManager(adapter, logger, cfg.Scan.Timeout())
	deviceManager := trainer.NewDeviceManager(logger, btManager, validator, aggregator)
	if err := deviceManager.Start(); err != nil {
		return err
	}
	defer deviceManager.Shutdown()

	snapshotStore, err := openStore(logger, cfg.Store)
	if err != nil {
		return err
	}
	defer snapshotStore.Close()

	rideSession := session.NewSession(logger, aggregator, snapshotStore, cfg.Session.SnapshotPeriod())
	rideSession.Run()
	defer rideSession.Shutdown()

	// The trainer is authoritative about the grade it is holding; feed
	// it back so elevation integrates from the real value.
	unsubscribeStatus := deviceManager.ListenStatus(func(event ftms.StatusEvent) {
		if event.Kind == ftms.StatusSimulationChanged {
			aggregator.SetGradePercent(event.Simulation.GradePercent)
		}
	})
	defer unsubscribeStatus()

	if cfg.Plan.Path != "" {
		if err := startAutomation(logger, cfg, rideSession, deviceManager, aggregator); err != nil {
			return err
		}
	}

	dashboard := ui.NewDashboard(logger, deviceManager, rideSession)
	if err := dashboard.Run(); err != nil {
		return fmt.Errorf("ui failed: %w", err)
	}

	logger.Println("ride-engine stopped")
	return nil
}

func openStore(logger *log.Logger, cfg config.StoreConfig) (store.SnapshotStore, error) {
	if cfg.Path == "" {
		logger.Println("no store path configured, snapshots stay in memory")
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(logger, cfg.Path)
}

// startAutomation loads the plan and ties the executor to the session
// lifecycle and its own one-second clock.
func startAutomation(logger *log.Logger, cfg config.Config, rideSession *session.Session,
	deviceManager *trainer.DeviceManager, aggregator *metrics.Aggregator) error {

	plan, err := automation.LoadPlanFile(cfg.Plan.Path)
	if err != nil {
		return err
	}
	logger.Printf("workout plan %q loaded: %d steps, %v total", plan.Name, len(plan.Steps), plan.TotalDuration())

	executor := automation.NewExecutor(logger, plan, config.RiderProfile{Rider: cfg.Rider}, deviceManager, aggregator)

	stateCh := make(chan session.State, 4)
	rideSession.ListenState(stateCh)

	go_func_utils.SafeGo(logger, func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case state := <-stateCh:
				executor.HandleSessionState(state)
				if state == session.StateFinished {
					return
				}
			case <-ticker.C:
				executor.Tick(1 * time.Second)
			}
		}
	})
	return nil
}
