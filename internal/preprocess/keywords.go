package preprocess

import (
	"context"
	"strings"
)

// Intents recognised by the keyword classifier.
const (
	IntentInquiry   = "inquiry"
	IntentSupport   = "support"
	IntentComplaint = "complaint"
	IntentPurchase  = "purchase"
	IntentRefund    = "refund"
	IntentTechnical = "technical"
)

// Urgency levels on the 1..10 scale.
const (
	urgencyLow      = 3
	urgencyMedium   = 5
	urgencyHigh     = 7
	urgencyCritical = 9
)

// intentKeywords is checked in order; the first intent with a hit wins.
var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{IntentRefund, []string{"refund", "money back", "chargeback", "退款"}},
	{IntentComplaint, []string{"complain", "complaint", "terrible", "unacceptable", "投诉"}},
	{IntentTechnical, []string{"error", "bug", "crash", "not working", "broken", "login", "故障"}},
	{IntentPurchase, []string{"buy", "purchase", "price", "pricing", "order", "购买"}},
	{IntentSupport, []string{"help", "support", "how do i", "how to", "帮助"}},
	{IntentInquiry, []string{"?", "what", "when", "where", "咨询"}},
}

var criticalKeywords = []string{"urgent", "emergency", "asap", "immediately", "紧急"}
var highKeywords = []string{"angry", "furious", "lawyer", "cancel my", "still not", "again"}

var intentSkills = map[string][]string{
	IntentRefund:    {"billing"},
	IntentPurchase:  {"sales"},
	IntentTechnical: {"tech"},
	IntentComplaint: {"complaints"},
	IntentSupport:   {"general"},
}

// KeywordClassifier is a dependency-free stand-in for the model-backed
// classifiers. It implements all three preprocessing collaborators.
type KeywordClassifier struct{}

func (KeywordClassifier) ClassifyIntent(_ context.Context, text string) (*string, error) {
	lower := strings.ToLower(text)
	for _, entry := range intentKeywords {
		if containsAny(lower, entry.keywords) {
			intent := entry.intent
			return &intent, nil
		}
	}
	return nil, nil
}

func (KeywordClassifier) AssessUrgency(_ context.Context, text string, intent *string) (int, error) {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, criticalKeywords):
		return urgencyCritical, nil
	case containsAny(lower, highKeywords):
		return urgencyHigh, nil
	}
	if intent != nil {
		switch *intent {
		case IntentComplaint, IntentRefund:
			return urgencyHigh, nil
		case IntentInquiry:
			return urgencyLow, nil
		}
	}
	return urgencyMedium, nil
}

func (KeywordClassifier) IdentifyRequiredSkills(_ context.Context, intent *string, _ string) ([]string, error) {
	if intent == nil {
		return nil, nil
	}
	return append([]string(nil), intentSkills[*intent]...), nil
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
