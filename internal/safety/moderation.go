// Package safety holds the content-moderation port used by the object
// commit pipeline and the turn processor, plus the default keyword rule
// engine. The banned set and decision algorithm are configuration, not
// contract; callers only see SafetyResult values.
package safety

import "strings"

// Result categories.
const (
	CategoryText  = "text"
	CategoryImage = "image"
)

// SafetyResult is the verdict of one moderation evaluation. Passed is true
// iff Reasons is empty.
type SafetyResult struct {
	Category string   `json:"category"`
	Passed   bool     `json:"passed"`
	Reasons  []string `json:"reasons"`
}

// Engine is the abstract moderation port.
type Engine interface {
	// EvaluateText checks free text against the policy.
	EvaluateText(text string) SafetyResult
	// EvaluateLabels checks model-produced labels against the policy.
	EvaluateLabels(labels []string) SafetyResult
}

// DefaultBannedKeywords is the canonical rule set for the keyword engine.
var DefaultBannedKeywords = []string{"violence", "blood", "weapon", "scary", "alcohol"}

// KeywordEngine is the default rule-based engine: case-insensitive
// substring matching for text, exact lowercase matching for labels.
type KeywordEngine struct {
	banned []string
}

// NewKeywordEngine creates an engine with the given banned keywords, or the
// default set when none are supplied.
func NewKeywordEngine(banned []string) *KeywordEngine {
	if len(banned) == 0 {
		banned = DefaultBannedKeywords
	}
	return &KeywordEngine{banned: banned}
}

// EvaluateText flags every banned keyword appearing as a substring of the
// lowercased text.
func (e *KeywordEngine) EvaluateText(text string) SafetyResult {
	lowered := strings.ToLower(text)
	reasons := []string{}
	for _, kw := range e.banned {
		if strings.Contains(lowered, kw) {
			reasons = append(reasons, kw)
		}
	}
	return SafetyResult{Category: CategoryText, Passed: len(reasons) == 0, Reasons: reasons}
}

// EvaluateLabels flags every banned keyword that equals one of the
// lowercased labels.
func (e *KeywordEngine) EvaluateLabels(labels []string) SafetyResult {
	normalized := make(map[string]bool, len(labels))
	for _, label := range labels {
		normalized[strings.ToLower(label)] = true
	}
	reasons := []string{}
	for _, kw := range e.banned {
		if normalized[kw] {
			reasons = append(reasons, kw)
		}
	}
	return SafetyResult{Category: CategoryImage, Passed: len(reasons) == 0, Reasons: reasons}
}
