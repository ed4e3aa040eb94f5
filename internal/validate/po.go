package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/facilityops/invoice-engine/internal/ledger"
)

// poCandidatePattern finds purchase-order-looking tokens in document text:
// an optional P prefix followed by at least 8 digits, with an optional
// separator-delimited suffix (P26003063, P25063542-2, 26000686_1).
var poCandidatePattern = regexp.MustCompile(`(?i)\bP?\d{8,}(?:[_\-]\d+)?\b`)

// NormalizePO strips a leading P and all -/_ separators so truncated and
// suffixed PO variants compare equal.
func NormalizePO(po string) string {
	s := strings.TrimSpace(po)
	if len(s) > 0 && (s[0] == 'P' || s[0] == 'p') {
		s = s[1:]
	}
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// poMatches reports whether two normalized PO numbers refer to the same
// order: equal, or one a prefix of the other (handles truncation and
// release-number suffixes).
func poMatches(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// ValidatePO checks whether the vendor's PO on file appears in the document
// text. Undecidable when the vendor has no PO on file.
func ValidatePO(text string, agreement *ledger.AgreementTerm) CheckResult {
	if agreement.CurrentPO == nil || strings.TrimSpace(*agreement.CurrentPO) == "" {
		return undecidable("no purchase order on file for this vendor")
	}
	expected := strings.TrimSpace(*agreement.CurrentPO)
	normExpected := NormalizePO(expected)

	candidates := poCandidatePattern.FindAllString(text, -1)
	for _, cand := range candidates {
		if poMatches(NormalizePO(cand), normExpected) {
			return pass(fmt.Sprintf("purchase order %s found in document", expected), cand)
		}
	}

	return fail(fmt.Sprintf("purchase order %s not found in document", expected), candidates...)
}
