// Package executor schedules virtual users over a stage timeline.
package executor

import (
	"errors"
	"fmt"
	"time"
)

// Stage is one segment of the timeline: over Duration, the VU count moves
// linearly from the previous stage's target to Target.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`
	Target   int           `json:"target" yaml:"target"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
}

// Phase describes what the executor is currently doing.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDraining Phase = "draining"
	PhaseDone     Phase = "done"
)

// ValidateStages checks that a timeline is usable.
func ValidateStages(stages []Stage) error {
	if len(stages) == 0 {
		return errors.New("at least one stage is required")
	}

	var errs []error
	for i, s := range stages {
		if s.Duration <= 0 {
			errs = append(errs, fmt.Errorf("stages[%d]: duration must be positive, got %s", i, s.Duration))
		}
		if s.Target < 0 {
			errs = append(errs, fmt.Errorf("stages[%d]: target must be non-negative, got %d", i, s.Target))
		}
	}
	return errors.Join(errs...)
}

// TotalDuration returns the sum of all stage durations.
func TotalDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}
	return total
}

// MaxTarget returns the highest target across stages.
func MaxTarget(stages []Stage) int {
	peak := 0
	for _, s := range stages {
		if s.Target > peak {
			peak = s.Target
		}
	}
	return peak
}

// TargetAt returns the interpolated VU target at elapsed and the index of the
// stage containing it.
//
// Within a stage the target moves linearly from the previous stage's target
// (0 before the first stage) and is rounded to nearest, so it never leaves
// the range spanned by the two adjacent targets. Past the end of the
// timeline the last target and index are returned.
func TargetAt(stages []Stage, elapsed time.Duration) (int, int) {
	if len(stages) == 0 {
		return 0, 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}
			if progress > 1 {
				progress = 1
			}

			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5), i
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	last := len(stages) - 1
	return stages[last].Target, last
}

// PhaseOf classifies a stage by its direction of travel.
func PhaseOf(stages []Stage, idx int) Phase {
	if idx < 0 || idx >= len(stages) {
		return PhaseDone
	}

	prevTarget := 0
	if idx > 0 {
		prevTarget = stages[idx-1].Target
	}

	switch cur := stages[idx].Target; {
	case cur > prevTarget:
		return PhaseRampUp
	case cur < prevTarget:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}
