package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"session-allocator-go/internal/models"
)

func agent(id string, mutate func(*models.AgentInfo)) models.AgentInfo {
	a := models.AgentInfo{
		ID:              id,
		TenantID:        "t1",
		CurrentSessions: 0,
		MaxSessions:     3,
		IsOnline:        true,
		Status:          models.AgentStatusOnline,
	}
	if mutate != nil {
		mutate(&a)
	}
	return a
}

func ids(agents []models.AgentInfo) []string {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	now := time.Date(2026, 3, 11, 10, 30, 0, 0, time.UTC) // Wednesday

	agents := []models.AgentInfo{
		agent("ok", nil),
		agent("busy-with-room", func(a *models.AgentInfo) { a.Status = models.AgentStatusBusy }),
		agent("offline-flag", func(a *models.AgentInfo) { a.IsOnline = false }),
		agent("on-break", func(a *models.AgentInfo) { a.Status = models.AgentStatusBreak }),
		agent("training", func(a *models.AgentInfo) { a.Status = models.AgentStatusTraining }),
		agent("meeting", func(a *models.AgentInfo) { a.Status = models.AgentStatusMeeting }),
		agent("status-offline", func(a *models.AgentInfo) { a.Status = models.AgentStatusOffline }),
		agent("full", func(a *models.AgentInfo) { a.CurrentSessions = 3 }),
		agent("zero-capacity", func(a *models.AgentInfo) { a.MaxSessions = 0 }),
		agent("off-shift", func(a *models.AgentInfo) {
			a.WorkingHours = models.WorkingHours{Start: "13:00", End: "21:00"}
		}),
		agent("on-shift", func(a *models.AgentInfo) {
			a.WorkingHours = models.WorkingHours{Start: "09:00", End: "18:00"}
		}),
	}

	got := Filter(agents, now)

	assert.ElementsMatch(t, []string{"ok", "busy-with-room", "on-shift"}, ids(got))
	assert.Len(t, agents, 11, "input must not be modified")
}

func TestFilterExcludesAgentAtCapacityEvenWhenOnline(t *testing.T) {
	a := agent("a", func(a *models.AgentInfo) {
		a.CurrentSessions = 5
		a.MaxSessions = 5
	})
	assert.Empty(t, Filter([]models.AgentInfo{a}, time.Now()))
}

func TestWorkingHoursContains(t *testing.T) {
	wed := func(h, m int) time.Time { return time.Date(2026, 3, 11, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		wh   models.WorkingHours
		at   time.Time
		want bool
	}{
		{"zero window is always", models.WorkingHours{}, wed(3, 0), true},
		{"inside day window", models.WorkingHours{Start: "09:00", End: "17:00"}, wed(9, 0), true},
		{"end is exclusive", models.WorkingHours{Start: "09:00", End: "17:00"}, wed(17, 0), false},
		{"overnight evening part", models.WorkingHours{Start: "21:00", End: "05:00"}, wed(23, 0), true},
		{"overnight morning part", models.WorkingHours{Start: "21:00", End: "05:00"}, wed(4, 59), true},
		{"overnight gap", models.WorkingHours{Start: "21:00", End: "05:00"}, wed(12, 0), false},
		{"weekday allowed", models.WorkingHours{Start: "09:00", End: "17:00", Days: []time.Weekday{time.Wednesday}}, wed(10, 0), true},
		{"weekday not allowed", models.WorkingHours{Start: "09:00", End: "17:00", Days: []time.Weekday{time.Monday}}, wed(10, 0), false},
		{"overnight shift started the day before", models.WorkingHours{Start: "22:00", End: "06:00", Days: []time.Weekday{time.Tuesday}}, wed(2, 0), true},
		{"timezone shifts the window", models.WorkingHours{Timezone: "Asia/Shanghai", Start: "09:00", End: "18:00"}, wed(2, 0), true},
		{"malformed window never matches", models.WorkingHours{Start: "nine", End: "17:00"}, wed(10, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.wh.Contains(tt.at))
		})
	}
}
