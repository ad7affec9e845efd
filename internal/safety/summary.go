package safety

// Summary aggregates one or more SafetyResults: it passes iff every child
// passed, and flattens all child reasons.
type Summary struct {
	Passed  bool           `json:"passed"`
	Reasons []string       `json:"reasons"`
	Results []SafetyResult `json:"results"`
}

// Summarize folds results into a Summary. With no results it reports a
// single passing text verdict, so "nothing to evaluate" reads as clean.
func Summarize(results ...SafetyResult) Summary {
	if len(results) == 0 {
		results = []SafetyResult{{Category: CategoryText, Passed: true, Reasons: []string{}}}
	}
	summary := Summary{Passed: true, Reasons: []string{}, Results: results}
	for _, result := range results {
		if !result.Passed {
			summary.Passed = false
		}
		summary.Reasons = append(summary.Reasons, result.Reasons...)
	}
	return summary
}

// ToMap renders the summary for event payloads and audit logs.
func (s Summary) ToMap() map[string]any {
	results := make([]map[string]any, len(s.Results))
	for i, r := range s.Results {
		results[i] = map[string]any{
			"category": r.Category,
			"passed":   r.Passed,
			"reasons":  r.Reasons,
		}
	}
	return map[string]any{
		"passed":  s.Passed,
		"reasons": s.Reasons,
		"results": results,
	}
}
