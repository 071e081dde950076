package scoring

import "session-allocator-go/internal/models"

// NeutralPreferenceScore is used for every agent when the request names no
// preferred agent, so the preference weight shifts nobody.
const NeutralPreferenceScore = 0.5

// PreferenceScore is 1 for the requested agent and 0 for everyone else.
func PreferenceScore(agentID, preferredAgentID string) float64 {
	switch {
	case preferredAgentID == "":
		return NeutralPreferenceScore
	case agentID == preferredAgentID:
		return 1
	}
	return 0
}

// Combine folds the component scores into one total in [0,1].
//
// The weighted sum is already in [0,1] because weights sum to 1. A
// non-balanced strategy adds StrategyBonus times its component and the
// result is divided by 1+StrategyBonus, which keeps the ceiling at 1.0 while
// preserving the order the bonus produces.
func Combine(w models.AllocationWeights, strategy models.Strategy, c models.ComponentScores) float64 {
	total := w.Skill*c.Skill +
		w.Workload*c.Workload +
		w.ResponseTime*c.ResponseTime +
		w.History*c.History +
		w.Preference*c.Preference

	if bonus := strategy.BonusComponent(); bonus != models.ComponentNone {
		total = (total + models.StrategyBonus*c.Get(bonus)) / (1 + models.StrategyBonus)
	}
	return Clamp01(total)
}
