package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidWeights is returned when a tenant's weights fail validation.
// It is only ever produced at config-load time.
var ErrInvalidWeights = errors.New("invalid allocation weights")

// WeightSumTolerance is how far the weight sum may drift from 1.0.
const WeightSumTolerance = 0.01

// AllocationWeights are the per-tenant factor weights.
type AllocationWeights struct {
	Skill        float64 `json:"skill" yaml:"skill"`
	Workload     float64 `json:"workload" yaml:"workload"`
	ResponseTime float64 `json:"response_time" yaml:"response_time"`
	History      float64 `json:"history" yaml:"history"`
	Preference   float64 `json:"preference" yaml:"preference"`
}

// DefaultWeights returns the weights used when a tenant has none configured.
func DefaultWeights() AllocationWeights {
	return AllocationWeights{
		Skill:        0.35,
		Workload:     0.25,
		ResponseTime: 0.20,
		History:      0.15,
		Preference:   0.05,
	}
}

func (w AllocationWeights) Sum() float64 {
	return w.Skill + w.Workload + w.ResponseTime + w.History + w.Preference
}

// Validate rejects negative weights and sums outside 1.0±WeightSumTolerance.
func (w AllocationWeights) Validate() error {
	fields := map[string]float64{
		"skill":         w.Skill,
		"workload":      w.Workload,
		"response_time": w.ResponseTime,
		"history":       w.History,
		"preference":    w.Preference,
	}
	for name, v := range fields {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a finite non-negative number, got %v", ErrInvalidWeights, name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("%w: weights must sum to 1.0, got %.4f", ErrInvalidWeights, sum)
	}
	return nil
}

// Component names one scoring factor.
type Component int

const (
	ComponentNone Component = iota
	ComponentSkill
	ComponentWorkload
	ComponentResponseTime
	ComponentHistory
	ComponentPreference
)

// Strategy is a tenant-level emphasis layered on top of the weights.
type Strategy string

const (
	StrategyBalanced      Strategy = "balanced"
	StrategySkillPriority Strategy = "skill_priority"
	StrategySpeedPriority Strategy = "speed_priority"
	StrategyLoadPriority  Strategy = "load_priority"
)

// StrategyBonus is the flat multiplier applied to the emphasised component.
const StrategyBonus = 0.2

// BonusComponent returns the component a strategy emphasises.
func (s Strategy) BonusComponent() Component {
	switch s {
	case StrategySkillPriority:
		return ComponentSkill
	case StrategySpeedPriority:
		return ComponentResponseTime
	case StrategyLoadPriority:
		return ComponentWorkload
	}
	return ComponentNone
}

// ParseStrategy accepts the wire names; the empty string means balanced.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyBalanced, nil
	case StrategyBalanced, StrategySkillPriority, StrategySpeedPriority, StrategyLoadPriority:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown allocation strategy %q", s)
}

// ComponentScores holds one agent's per-factor scores, each in [0,1].
type ComponentScores struct {
	Skill        float64 `json:"skill"`
	Workload     float64 `json:"workload"`
	ResponseTime float64 `json:"response_time"`
	History      float64 `json:"history"`
	Preference   float64 `json:"preference"`
}

// Get returns the score for c, or 0 for ComponentNone.
func (c ComponentScores) Get(comp Component) float64 {
	switch comp {
	case ComponentSkill:
		return c.Skill
	case ComponentWorkload:
		return c.Workload
	case ComponentResponseTime:
		return c.ResponseTime
	case ComponentHistory:
		return c.History
	case ComponentPreference:
		return c.Preference
	}
	return 0
}
