// Package availability decides which agents can take a new conversation right now.
package availability

import (
	"time"

	"session-allocator-go/internal/models"
)

// Filter keeps agents that are online, not in a blocking status, under
// capacity and inside their working hours. It does not touch its input and the
// output order is unspecified.
func Filter(agents []models.AgentInfo, now time.Time) []models.AgentInfo {
	out := make([]models.AgentInfo, 0, len(agents))
	for _, a := range agents {
		if IsAvailable(a, now) {
			out = append(out, a)
		}
	}
	return out
}

// IsAvailable applies the availability rules to one agent.
func IsAvailable(a models.AgentInfo, now time.Time) bool {
	if !a.IsOnline {
		return false
	}
	if a.Status.Blocking() {
		return false
	}
	if a.MaxSessions < 1 || a.CurrentSessions >= a.MaxSessions {
		return false
	}
	return a.WorkingHours.Contains(now)
}
