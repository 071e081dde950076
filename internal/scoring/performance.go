package scoring

import (
	"time"

	"session-allocator-go/internal/models"
)

const (
	IdealResponseTime         = 60 * time.Second
	MaxAcceptableResponseTime = 600 * time.Second

	avgResponseWeight    = 0.3
	medianResponseWeight = 0.3
	recentResponseWeight = 0.4

	// NeutralHistoryScore is used when an agent never served the user.
	NeutralHistoryScore = 0.5

	continuityStep = 0.1
	continuityCap  = 0.3
	recencyMax     = 0.2
	recencyPerDay  = 0.01
)

// PerformanceTracker scores response speed and past service quality.
type PerformanceTracker interface {
	ResponseScore(stats models.ResponseStats) float64
	HistoryScore(records []models.ServiceRecord, now time.Time) float64
}

// LinearPerformanceTracker decays linearly between the ideal and the maximum
// acceptable response time and weights recent latency highest.
type LinearPerformanceTracker struct{}

func (LinearPerformanceTracker) ResponseScore(stats models.ResponseStats) float64 {
	return Clamp01(
		avgResponseWeight*latencyScore(stats.AvgResponseTimeSeconds) +
			medianResponseWeight*latencyScore(stats.MedianResponseTimeSeconds) +
			recentResponseWeight*latencyScore(stats.RecentAvgResponseTimeSeconds),
	)
}

func latencyScore(seconds float64) float64 {
	ideal := IdealResponseTime.Seconds()
	worst := MaxAcceptableResponseTime.Seconds()
	switch {
	case seconds <= ideal:
		return 1.0
	case seconds >= worst:
		return 0.0
	}
	return 1 - (seconds-ideal)/(worst-ideal)
}

// HistoryScore favours agents who served this user before, well and recently.
// Unrated records still count towards continuity and recency; when no record
// carries a rating the satisfaction term is neutral.
func (LinearPerformanceTracker) HistoryScore(records []models.ServiceRecord, now time.Time) float64 {
	if len(records) == 0 {
		return NeutralHistoryScore
	}

	var (
		ratingSum float64
		rated     int
		last      time.Time
	)
	for _, r := range records {
		if r.Rating != nil {
			rating := *r.Rating
			if rating < 1 {
				rating = 1
			}
			if rating > 5 {
				rating = 5
			}
			ratingSum += rating
			rated++
		}
		if r.ServedAt.After(last) {
			last = r.ServedAt
		}
	}

	satisfaction := NeutralHistoryScore
	if rated > 0 {
		satisfaction = (ratingSum/float64(rated) - 1) / 4
	}

	continuity := min(continuityStep*float64(len(records)), continuityCap)

	days := now.Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}
	recency := max(0, recencyMax-recencyPerDay*days)

	return Clamp01(satisfaction + continuity + recency)
}
