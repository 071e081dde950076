// Package scoring holds the per-factor scorers the allocator combines. Every
// scorer is a pure function of its inputs and returns a value in [0,1].
package scoring

import (
	"strings"

	"session-allocator-go/internal/models"
)

const (
	// GeneralSkill is the catch-all skill used when nobody has the exact one.
	GeneralSkill = "general"

	// DefaultMinMatchRatio is the skill gate threshold.
	DefaultMinMatchRatio = 0.6

	maxProficiency = 5.0
)

// SkillMatcher gates and scores an agent's skills against a request.
type SkillMatcher interface {
	IsCompatible(agentSkills []models.Skill, required []string, minMatchRatio float64) bool
	Score(agentSkills []models.Skill, required []string) float64
}

// ProficiencySkillMatcher rewards both breadth of match and proficiency depth.
type ProficiencySkillMatcher struct{}

// IsCompatible is vacuously true for an empty requirement set.
func (ProficiencySkillMatcher) IsCompatible(agentSkills []models.Skill, required []string, minMatchRatio float64) bool {
	req := dedupe(required)
	if len(req) == 0 {
		return true
	}
	have := skillIndex(agentSkills)
	matched := 0
	for _, name := range req {
		if _, ok := have[name]; ok {
			matched++
		}
	}
	return float64(matched)/float64(len(req)) >= minMatchRatio
}

// Score averages proficiency/5 over the required skills. A missing skill falls
// back to the agent's general proficiency at half value.
func (ProficiencySkillMatcher) Score(agentSkills []models.Skill, required []string) float64 {
	req := dedupe(required)
	if len(req) == 0 {
		return 1.0
	}
	have := skillIndex(agentSkills)
	general, hasGeneral := have[GeneralSkill]

	var sum float64
	for _, name := range req {
		if p, ok := have[name]; ok {
			sum += float64(p) / maxProficiency
			continue
		}
		if hasGeneral {
			sum += float64(general) / (2 * maxProficiency)
		}
	}
	return Clamp01(sum / float64(len(req)))
}

// HasSkill reports whether the agent lists name at any proficiency.
func HasSkill(agentSkills []models.Skill, name string) bool {
	name = normalizeSkill(name)
	for _, s := range agentSkills {
		if normalizeSkill(s.Name) == name {
			return true
		}
	}
	return false
}

// skillIndex keeps the highest proficiency per name, clamped to 1..5.
func skillIndex(skills []models.Skill) map[string]int {
	idx := make(map[string]int, len(skills))
	for _, s := range skills {
		p := s.Proficiency
		if p < 1 {
			p = 1
		}
		if p > maxProficiency {
			p = maxProficiency
		}
		name := normalizeSkill(s.Name)
		if cur, ok := idx[name]; !ok || p > cur {
			idx[name] = p
		}
	}
	return idx
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = normalizeSkill(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// normalizeSkill makes skill names compare case-insensitively.
func normalizeSkill(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
