// Package automation executes a workout plan against the connected
// trainer: resolving step targets through the rider profile and pushing
// them to the control point as the ride progresses.
package automation

import "time"

// TargetKind says what a plan step asks the trainer to hold.
type TargetKind int

const (
	TargetPower TargetKind = iota
	TargetGrade
	TargetResistance
	TargetHeartRate
)

func (k TargetKind) String() string {
	switch k {
	case TargetPower:
		return "power"
	case TargetGrade:
		return "grade"
	case TargetResistance:
		return "resistance"
	case TargetHeartRate:
		return "heart rate"
	default:
		return "unknown"
	}
}

// StepTarget is one step's goal. Value is absolute (watts, percent
// grade, resistance level, bpm) unless IsPercentOfThreshold is set, in
// which case it is a percentage of the rider's FTP or threshold heart
// rate.
type StepTarget struct {
	Kind                 TargetKind
	Value                float64
	IsPercentOfThreshold bool
}

// PlanStep is one timed segment of a workout.
type PlanStep struct {
	Name     string
	Duration time.Duration
	Target   StepTarget
}

// Plan is an ordered list of steps executed back to back.
type Plan struct {
	Name  string
	Steps []PlanStep
}

// TotalDuration sums all step durations.
func (p Plan) TotalDuration() time.Duration {
	var total time.Duration
	for _, step := range p.Steps {
		total += step.Duration
	}
	return total
}

// StepIndexAt returns the step active at the given elapsed time, or -1
// once the plan is over. A step owns [start, start+duration).
func (p Plan) StepIndexAt(elapsed time.Duration) int {
	if elapsed < 0 {
		return -1
	}
	var start time.Duration
	for i, step := range p.Steps {
		if elapsed < start+step.Duration {
			return i
		}
		start += step.Duration
	}
	return -1
}
