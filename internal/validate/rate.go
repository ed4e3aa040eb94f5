package validate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/logger"
)

// rateTolerance is the accepted deviation from the agreed amount. It absorbs
// rounding and small fee variance in billed totals while still catching gross
// mismatches.
const rateTolerance = 0.05

// amountPattern matches dollar-style amounts with optional thousands
// separators: 1000, 1,000.00, $12,345.67.
var amountPattern = regexp.MustCompile(`\$?\s*\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?\b|\$?\s*\d+(?:\.\d{1,2})?\b`)

// ExtractAmounts finds every numeric amount in the text.
func ExtractAmounts(text string) []float64 {
	var out []float64
	for _, tok := range amountPattern.FindAllString(text, -1) {
		cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tok), "$"))
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		if v, err := strconv.ParseFloat(cleaned, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// withinTolerance reports whether amount is within ±5% of expected,
// inclusive at both bounds.
func withinTolerance(amount, expected float64) bool {
	const eps = 1e-9
	lo := expected * (1 - rateTolerance)
	hi := expected * (1 + rateTolerance)
	return amount >= lo-eps && amount <= hi+eps
}

// RateValidator checks billed amounts against the vendor's agreed rate.
type RateValidator struct {
	assisted AssistedExtractor
	log      *logger.Logger
}

// NewRateValidator creates a RateValidator. assisted may be nil.
func NewRateValidator(assisted AssistedExtractor, log *logger.Logger) *RateValidator {
	return &RateValidator{assisted: assisted, log: log}
}

// Validate applies the rate rules:
//   - variable rate (or no rate data): auto-pass, flagged for review so the
//     Routing Decider sends the invoice to the financial reviewer.
//   - fixed-period with a known amount: any amount in the document within
//     ±5% of the agreed amount passes; otherwise the assisted extractor is
//     consulted before failing.
//   - fixed-period with no amount on file: undecidable, flagged for review.
func (v *RateValidator) Validate(ctx context.Context, text string, agreement *ledger.AgreementTerm) CheckResult {
	rate := agreement.Rate

	if rate.Type == ledger.RateVariable {
		r := pass("variable rate agreement; amount requires manual determination")
		r.RequiresReview = true
		return r
	}

	if rate.Amount == nil {
		r := undecidable("fixed-period rate with no agreed amount on file")
		r.RequiresReview = true
		return r
	}
	expected := *rate.Amount

	amounts := ExtractAmounts(text)
	for _, a := range amounts {
		if withinTolerance(a, expected) {
			return pass(
				fmt.Sprintf("amount %.2f within ±5%% of agreed %.2f", a, expected),
				formatAmount(a))
		}
	}

	// The exact figure may be buried in a table the regex mangled; let the
	// assisted extractor take a pass before declaring a mismatch.
	if v.assisted != nil {
		extra, err := v.assisted.ExtractAmounts(ctx, text, expected)
		if err != nil {
			v.log.Warn().Err(err).Msg("Assisted amount extraction failed; using local amounts only")
		} else {
			for _, a := range extra {
				if withinTolerance(a, expected) {
					return pass(
						fmt.Sprintf("amount %.2f within ±5%% of agreed %.2f", a, expected),
						formatAmount(a))
				}
				amounts = append(amounts, a)
			}
		}
	}

	evidence := make([]string, 0, len(amounts))
	for _, a := range amounts {
		evidence = append(evidence, formatAmount(a))
	}
	return fail(
		fmt.Sprintf("no amount within ±5%% of agreed %.2f found in document", expected),
		evidence...)
}

func formatAmount(a float64) string {
	return strconv.FormatFloat(a, 'f', 2, 64)
}
