package automation

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type planFileStep struct {
	Name     string `mapstructure:"name"`
	Duration string `mapstructure:"duration"`
	Target   struct {
		Kind    string  `mapstructure:"kind"`
		Value   float64 `mapstructure:"value"`
		Percent bool    `mapstructure:"percent"`
	} `mapstructure:"target"`
}

type planFile struct {
	Name  string         `mapstructure:"name"`
	Steps []planFileStep `mapstructure:"steps"`
}

var targetKindByName = map[string]TargetKind{
	"power":      TargetPower,
	"grade":      TargetGrade,
	"resistance": TargetResistance,
	"heart_rate": TargetHeartRate,
}

// LoadPlanFile reads a workout plan from a YAML file.
func LoadPlanFile(path string) (Plan, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Plan{}, fmt.Errorf("failed to read plan %s: %w", path, err)
	}

	var file planFile
	if err := v.Unmarshal(&file); err != nil {
		return Plan{}, fmt.Errorf("failed to decode plan %s: %w", path, err)
	}
	if len(file.Steps) == 0 {
		return Plan{}, fmt.Errorf("plan %s has no steps", path)
	}

	plan := Plan{Name: file.Name}
	for i, raw := range file.Steps {
		duration, err := time.ParseDuration(raw.Duration)
		if err != nil {
			return Plan{}, fmt.Errorf("step %d of plan %s: bad duration %q: %w", i+1, path, raw.Duration, err)
		}
		if duration <= 0 {
			return Plan{}, fmt.Errorf("step %d of plan %s: duration must be positive", i+1, path)
		}
		kind, ok := targetKindByName[raw.Target.Kind]
		if !ok {
			return Plan{}, fmt.Errorf("step %d of plan %s: unknown target kind %q", i+1, path, raw.Target.Kind)
		}
		plan.Steps = append(plan.Steps, PlanStep{
			Name:     raw.Name,
			Duration: duration,
			Target: StepTarget{
				Kind:                 kind,
				Value:                raw.Target.Value,
				IsPercentOfThreshold: raw.Target.Percent,
			},
		})
	}
	return plan, nil
}
