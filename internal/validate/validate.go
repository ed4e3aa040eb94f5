package validate

import "context"

// CheckResult is the outcome of one field validator. Valid has three states:
// true (checked and passed), false (checked and failed), nil (undecidable —
// the reference data needed to judge the check is missing).
type CheckResult struct {
	Valid          *bool    `json:"valid"`
	Reason         string   `json:"reason"`
	Evidence       []string `json:"evidence,omitempty"`
	RequiresReview bool     `json:"requires_review,omitempty"`
}

// Passed reports Valid == true.
func (r CheckResult) Passed() bool { return r.Valid != nil && *r.Valid }

// Failed reports Valid == false.
func (r CheckResult) Failed() bool { return r.Valid != nil && !*r.Valid }

// Undecidable reports Valid == nil.
func (r CheckResult) Undecidable() bool { return r.Valid == nil }

func pass(reason string, evidence ...string) CheckResult {
	v := true
	return CheckResult{Valid: &v, Reason: reason, Evidence: evidence}
}

func fail(reason string, evidence ...string) CheckResult {
	v := false
	return CheckResult{Valid: &v, Reason: reason, Evidence: evidence}
}

func undecidable(reason string) CheckResult {
	return CheckResult{Valid: nil, Reason: reason}
}

// OverallStatus derives the record status from the three checks: failed if
// any check failed, passed if all three passed, partial otherwise.
func OverallStatus(po, date, rate CheckResult) string {
	if po.Failed() || date.Failed() || rate.Failed() {
		return "failed"
	}
	if po.Passed() && date.Passed() && rate.Passed() {
		return "passed"
	}
	return "partial"
}

// AssistedExtractor is the LLM-backed numeric/date extraction fallback.
// Implementations degrade to empty results on error or timeout.
type AssistedExtractor interface {
	ExtractAmounts(ctx context.Context, text string, expected float64) ([]float64, error)
	ExtractDates(ctx context.Context, text string) ([]string, error)
}
