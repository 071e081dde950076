package scoring

const (
	personalLoadWeight = 0.7
	relativeLoadWeight = 0.3
)

// LoadBalancer scores an agent's spare capacity.
type LoadBalancer interface {
	Score(currentSessions, maxSessions int, teamAvgLoad float64) float64
}

// CapacityLoadBalancer weighs an agent's own headroom above its standing
// relative to the team average, so a lightly loaded agent on a small team is
// not pushed down by one idle colleague.
type CapacityLoadBalancer struct{}

func (CapacityLoadBalancer) Score(currentSessions, maxSessions int, teamAvgLoad float64) float64 {
	var personalRatio float64
	if maxSessions > 0 {
		personalRatio = float64(currentSessions) / float64(maxSessions)
	}
	personal := max(0, 1-personalRatio)

	var relativeRatio float64
	if teamAvgLoad > 0 {
		relativeRatio = float64(currentSessions) / teamAvgLoad
	}
	relative := max(0, 1-0.5*relativeRatio)

	return Clamp01(personalLoadWeight*personal + relativeLoadWeight*relative)
}

// TeamAverageLoad is the mean CurrentSessions over the candidate set.
func TeamAverageLoad(current []int) float64 {
	if len(current) == 0 {
		return 0
	}
	var total int
	for _, c := range current {
		total += c
	}
	return float64(total) / float64(len(current))
}
