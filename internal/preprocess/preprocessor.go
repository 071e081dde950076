// Package preprocess turns a raw inbound conversation into an
// AllocationRequest. Classification is best-effort: any collaborator failure
// degrades that field to its default and never blocks allocation.
package preprocess

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"session-allocator-go/internal/api/middleware"
	"session-allocator-go/internal/models"
)

const (
	DefaultUrgency = 5
	MinUrgency     = 1
	MaxUrgency     = 10

	DefaultClassifyTimeout = 300 * time.Millisecond
)

// IntentClassifier returns the detected intent, or nil when unsure.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, text string) (*string, error)
}

type UrgencyAssessor interface {
	AssessUrgency(ctx context.Context, text string, intent *string) (int, error)
}

type SkillIdentifier interface {
	IdentifyRequiredSkills(ctx context.Context, intent *string, text string) ([]string, error)
}

// Preprocessor derives intent, urgency and required skills.
type Preprocessor struct {
	intents IntentClassifier
	urgency UrgencyAssessor
	skills  SkillIdentifier
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// New wires the collaborators; any of them may be nil.
func New(intents IntentClassifier, urgency UrgencyAssessor, skills SkillIdentifier, timeout time.Duration, logger *zap.Logger) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	return &Preprocessor{
		intents: intents,
		urgency: urgency,
		skills:  skills,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Preprocess never fails. Each collaborator gets its own timeout budget.
func (p *Preprocessor) Preprocess(ctx context.Context, tenantID string, raw models.RawRequest) models.AllocationRequest {
	req := models.AllocationRequest{
		RequestID:        raw.RequestID,
		UserID:           raw.UserID,
		TenantID:         tenantID,
		Platform:         raw.Platform,
		Content:          raw.Content,
		Timestamp:        raw.Timestamp,
		Urgency:          DefaultUrgency,
		PreferredAgentID: raw.PreferredAgentID,
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = p.now()
	}

	log := p.logger.With(zap.String("tenant_id", tenantID), zap.String("request_id", req.RequestID))

	if p.intents != nil {
		intent, err := guarded(ctx, p.timeout, func(ctx context.Context) (*string, error) {
			return p.intents.ClassifyIntent(ctx, raw.Content)
		})
		if err != nil {
			log.Warn("intent classification unavailable, continuing without intent", zap.Error(err))
			middleware.PreprocessFallbacksTotal.WithLabelValues("intent").Inc()
		} else if intent != nil && strings.TrimSpace(*intent) != "" {
			req.Intent = intent
		}
	}

	if p.urgency != nil {
		urgency, err := guarded(ctx, p.timeout, func(ctx context.Context) (int, error) {
			return p.urgency.AssessUrgency(ctx, raw.Content, req.Intent)
		})
		if err != nil {
			log.Warn("urgency assessment unavailable, using default", zap.Error(err), zap.Int("urgency", DefaultUrgency))
			middleware.PreprocessFallbacksTotal.WithLabelValues("urgency").Inc()
		} else {
			req.Urgency = ClampUrgency(urgency)
		}
	}

	if p.skills != nil {
		skills, err := guarded(ctx, p.timeout, func(ctx context.Context) ([]string, error) {
			return p.skills.IdentifyRequiredSkills(ctx, req.Intent, raw.Content)
		})
		if err != nil {
			log.Warn("skill identification unavailable, allocating without skill constraint", zap.Error(err))
			middleware.PreprocessFallbacksTotal.WithLabelValues("skills").Inc()
		} else {
			req.RequiredSkills = normalizeSkills(skills)
		}
	}

	return req
}

// ClampUrgency bounds u to 1..10; zero means "unknown" and maps to the default.
func ClampUrgency(u int) int {
	switch {
	case u == 0:
		return DefaultUrgency
	case u < MinUrgency:
		return MinUrgency
	case u > MaxUrgency:
		return MaxUrgency
	}
	return u
}

func normalizeSkills(skills []string) []string {
	if len(skills) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// guarded runs fn under a deadline and turns panics into errors. The call
// returns as soon as the deadline passes even if fn ignores its context.
func guarded[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome{zero, fmt.Errorf("classifier panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
