package automation

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/lowaak/ride-engine/internal/ftms"
	"github.com/lowaak/ride-engine/internal/session"
)

// Simulation constants for grade steps; plans specify only the grade.
const (
	defaultRollingResistance = 0.004
	defaultWindResistance    = 0.51
)

// Profile supplies the rider thresholds percent targets resolve against.
type Profile interface {
	FTPWatts() float64
	ThresholdHeartRate() float64
}

// TrainerControl is the slice of the device manager the executor drives.
type TrainerControl interface {
	SetPowerTarget(watts int16) error
	SetSimulationParameters(params ftms.SetSimulationParameters) error
	SetResistanceTarget(level float64) error
}

// GradeSink learns the grade currently applied so elevation can be
// integrated. Satisfied by the metrics aggregator.
type GradeSink interface {
	SetGradePercent(grade float64)
}

// Executor walks a plan while the session is recording. Target
// application is best effort: a missing trainer or threshold skips the
// step with a log line and the plan keeps moving on schedule.
type Executor struct {
	logger    *log.Logger
	plan      Plan
	profile   Profile
	control   TrainerControl
	gradeSink GradeSink

	mu          sync.Mutex
	active      bool
	started     bool
	applied     bool
	elapsed     time.Duration
	currentStep int
}

func NewExecutor(logger *log.Logger, plan Plan, profile Profile, control TrainerControl, gradeSink GradeSink) *Executor {
	if logger == nil {
		panic("Executor: logger cannot be nil")
	}
	if profile == nil {
		panic("Executor: profile cannot be nil")
	}
	if control == nil {
		panic("Executor: control cannot be nil")
	}
	return &Executor{
		logger:      logger,
		plan:        plan,
		profile:     profile,
		control:     control,
		gradeSink:   gradeSink,
		currentStep: -1,
	}
}

// CurrentStepIndex returns the running step, or -1 outside the plan.
func (e *Executor) CurrentStepIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStep
}

// HandleSessionState reacts to session transitions: the first entry into
// recording applies step zero, re-entering recording re-issues the
// active step's target, pause halts the plan clock, finish stops the
// executor for good.
func (e *Executor) HandleSessionState(state session.State) {
	e.mu.Lock()
	switch state {
	case session.StateRecording:
		e.active = true
		if !e.started && len(e.plan.Steps) > 0 {
			e.started = true
			e.currentStep = 0
			step := e.plan.Steps[0]
			e.mu.Unlock()
			e.logger.Printf("Executor: plan %q started with step %q", e.plan.Name, step.Name)
			e.apply(step)
			return
		}
		if e.started && e.currentStep >= 0 {
			// The trainer may have drifted while paused.
			step := e.plan.Steps[e.currentStep]
			e.mu.Unlock()
			e.apply(step)
			return
		}
	case session.StatePaused, session.StateFinished:
		e.active = false
	}
	e.mu.Unlock()
}

// Tick advances the plan clock. Called once per second alongside the
// session tick; does nothing while the plan clock is halted. A step
// whose target has not landed yet, because the controller rejected a
// colliding write, is re-issued here until it does.
func (e *Executor) Tick(dt time.Duration) {
	e.mu.Lock()
	if !e.active || !e.started {
		e.mu.Unlock()
		return
	}
	e.elapsed += dt
	index := e.plan.StepIndexAt(e.elapsed)
	changed := index != e.currentStep
	e.currentStep = index
	retry := !changed && index >= 0 && !e.applied
	e.mu.Unlock()

	if !changed && !retry {
		return
	}
	if index < 0 {
		e.logger.Printf("Executor: plan %q complete", e.plan.Name)
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
		return
	}

	step := e.plan.Steps[index]
	if changed {
		e.logger.Printf("Executor: step %q (%v)", step.Name, step.Duration)
	}
	e.apply(step)
}

// apply pushes one step target and remembers whether it landed so the
// next tick knows to re-issue it.
func (e *Executor) apply(step PlanStep) {
	applied := e.dispatch(step)
	e.mu.Lock()
	e.applied = applied
	e.mu.Unlock()
}

// dispatch resolves and pushes one step target, reporting whether the
// target landed. All failures are logged and swallowed: automation must
// never take the ride down. An unresolvable target counts as landed;
// retrying it would change nothing.
func (e *Executor) dispatch(step PlanStep) bool {
	target := step.Target

	switch target.Kind {
	case TargetPower:
		watts := target.Value
		if target.IsPercentOfThreshold {
			ftp := e.profile.FTPWatts()
			if ftp <= 0 {
				e.logger.Printf("Executor: skipping step %q: no FTP to resolve %.0f%%", step.Name, target.Value)
				return true
			}
			watts = target.Value / 100.0 * ftp
		}
		if err := e.control.SetPowerTarget(int16(math.Round(watts))); err != nil {
			e.logger.Printf("Executor: power target for step %q not applied: %v", step.Name, err)
			return false
		}
		return true

	case TargetGrade:
		params := ftms.SetSimulationParameters{
			GradePercent:           target.Value,
			RollingResistanceCoeff: defaultRollingResistance,
			WindResistanceCoeff:    defaultWindResistance,
		}
		if err := e.control.SetSimulationParameters(params); err != nil {
			e.logger.Printf("Executor: grade target for step %q not applied: %v", step.Name, err)
			return false
		}
		if e.gradeSink != nil {
			e.gradeSink.SetGradePercent(target.Value)
		}
		return true

	case TargetResistance:
		if err := e.control.SetResistanceTarget(target.Value); err != nil {
			e.logger.Printf("Executor: resistance target for step %q not applied: %v", step.Name, err)
			return false
		}
		return true

	case TargetHeartRate:
		// Driving the trainer from heart rate needs a feedback loop the
		// engine does not have; the step still paces the plan.
		e.logger.Printf("Executor: step %q targets heart rate, nothing to control", step.Name)
		return true
	}
	return true
}
