package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"session-allocator-go/internal/models"
)

func skills(pairs ...any) []models.Skill {
	out := make([]models.Skill, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.Skill{Name: pairs[i].(string), Proficiency: pairs[i+1].(int)})
	}
	return out
}

func TestSkillMatcherIsCompatible(t *testing.T) {
	m := ProficiencySkillMatcher{}

	tests := []struct {
		name     string
		agent    []models.Skill
		required []string
		want     bool
	}{
		{"empty requirement is vacuously compatible", nil, nil, true},
		{"exact match", skills("tech", 3), []string{"tech"}, true},
		{"no overlap", skills("sales", 5), []string{"tech"}, false},
		{"two of three meets 0.6", skills("tech", 1, "billing", 1), []string{"tech", "billing", "refund"}, true},
		{"one of two misses 0.6", skills("tech", 5), []string{"tech", "billing"}, false},
		{"duplicates in requirement collapse", skills("tech", 5), []string{"tech", "tech"}, true},
		{"agent skill names ignore case", skills("Billing", 2, " Tech ", 3), []string{"billing", "tech"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.IsCompatible(tt.agent, tt.required, DefaultMinMatchRatio)
			assert.Equal(t, tt.want, got)
			// deterministic
			assert.Equal(t, got, m.IsCompatible(tt.agent, tt.required, DefaultMinMatchRatio))
		})
	}
}

func TestSkillMatcherScore(t *testing.T) {
	m := ProficiencySkillMatcher{}

	tests := []struct {
		name     string
		agent    []models.Skill
		required []string
		want     float64
	}{
		{"empty requirement", skills("tech", 1), nil, 1.0},
		{"full proficiency", skills("tech", 5), []string{"tech"}, 1.0},
		{"partial proficiency", skills("tech", 3), []string{"tech"}, 0.6},
		{"general fallback", skills("general", 4), []string{"billing"}, 0.4},
		{"missing without general", skills("sales", 5), []string{"billing"}, 0.0},
		{"mixed", skills("tech", 5, "general", 2), []string{"tech", "billing"}, (1.0 + 0.2) / 2},
		{"proficiency above range is clamped", skills("tech", 9), []string{"tech"}, 1.0},
		{"capitalised general still falls back", skills("General", 4), []string{"billing"}, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Score(tt.agent, tt.required)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestHasSkillIgnoresCase(t *testing.T) {
	assert.True(t, HasSkill(skills("General", 3), GeneralSkill))
	assert.True(t, HasSkill(skills("billing", 3), "Billing"))
	assert.False(t, HasSkill(skills("sales", 3), GeneralSkill))
}

func TestLoadBalancerScore(t *testing.T) {
	lb := CapacityLoadBalancer{}

	tests := []struct {
		name    string
		current int
		max     int
		teamAvg float64
		want    float64
	}{
		{"idle agent on idle team", 0, 5, 0, 1.0},
		{"scenario agent A", 2, 5, 1, 0.7 * 0.6},
		{"scenario agent B", 0, 5, 1, 1.0},
		{"at team average", 2, 4, 2, 0.7*0.5 + 0.3*0.5},
		{"zero max is a floor, not a crash", 3, 0, 1, 0.7*1 + 0.3*0},
		{"overloaded never negative", 10, 5, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lb.Score(tt.current, tt.max, tt.teamAvg)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestTeamAverageLoad(t *testing.T) {
	assert.Equal(t, 0.0, TeamAverageLoad(nil))
	assert.Equal(t, 1.0, TeamAverageLoad([]int{2, 0}))
	assert.InDelta(t, 4.0/3.0, TeamAverageLoad([]int{1, 1, 2}), 1e-9)
}

func TestResponseScore(t *testing.T) {
	pt := LinearPerformanceTracker{}

	uniform := func(s float64) models.ResponseStats {
		return models.ResponseStats{AvgResponseTimeSeconds: s, MedianResponseTimeSeconds: s, RecentAvgResponseTimeSeconds: s}
	}

	assert.Equal(t, 1.0, pt.ResponseScore(uniform(30)))
	assert.Equal(t, 1.0, pt.ResponseScore(uniform(60)))
	assert.Equal(t, 0.0, pt.ResponseScore(uniform(600)))
	assert.Equal(t, 0.0, pt.ResponseScore(uniform(3600)))
	assert.InDelta(t, 1-240.0/540.0, pt.ResponseScore(uniform(300)), 1e-9)

	// recent latency carries the most weight
	recentSlow := models.ResponseStats{AvgResponseTimeSeconds: 30, MedianResponseTimeSeconds: 30, RecentAvgResponseTimeSeconds: 600}
	avgSlow := models.ResponseStats{AvgResponseTimeSeconds: 600, MedianResponseTimeSeconds: 30, RecentAvgResponseTimeSeconds: 30}
	assert.InDelta(t, 0.6, pt.ResponseScore(recentSlow), 1e-9)
	assert.InDelta(t, 0.7, pt.ResponseScore(avgSlow), 1e-9)
}

func TestHistoryScore(t *testing.T) {
	pt := LinearPerformanceTracker{}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rating := func(v float64) *float64 { return &v }

	t.Run("no history is neutral", func(t *testing.T) {
		assert.Equal(t, NeutralHistoryScore, pt.HistoryScore(nil, now))
	})

	t.Run("single recent excellent service", func(t *testing.T) {
		recs := []models.ServiceRecord{{Rating: rating(5), ServedAt: now}}
		// 1.0 + 0.1 + 0.2 clamps to 1
		assert.Equal(t, 1.0, pt.HistoryScore(recs, now))
	})

	t.Run("old poor service", func(t *testing.T) {
		recs := []models.ServiceRecord{{Rating: rating(1), ServedAt: now.AddDate(0, 0, -40)}}
		assert.InDelta(t, 0.1, pt.HistoryScore(recs, now), 1e-9)
	})

	t.Run("continuity caps at 0.3", func(t *testing.T) {
		var recs []models.ServiceRecord
		for i := 0; i < 6; i++ {
			recs = append(recs, models.ServiceRecord{Rating: rating(3), ServedAt: now.AddDate(0, 0, -30-i)})
		}
		assert.InDelta(t, 0.5+0.3, pt.HistoryScore(recs, now), 1e-9)
	})

	t.Run("recency decays per day", func(t *testing.T) {
		recs := []models.ServiceRecord{{Rating: rating(3), ServedAt: now.AddDate(0, 0, -5)}}
		assert.InDelta(t, 0.5+0.1+0.15, pt.HistoryScore(recs, now), 1e-9)
	})

	t.Run("unrated records use neutral satisfaction", func(t *testing.T) {
		recs := []models.ServiceRecord{{ServedAt: now.AddDate(0, 0, -30)}}
		assert.InDelta(t, 0.5+0.1, pt.HistoryScore(recs, now), 1e-9)
	})
}
