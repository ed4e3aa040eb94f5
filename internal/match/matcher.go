package match

import (
	"context"
	"regexp"
	"strings"

	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/logger"
)

// Method records which strategy produced a vendor match.
type Method string

const (
	MethodExact    Method = "exact"
	MethodFuzzy    Method = "fuzzy"
	MethodAssisted Method = "assisted"
	MethodNone     Method = "none"
)

// Result is the outcome of vendor identification.
type Result struct {
	Vendor string
	Method Method
}

// AssistedVendorMatcher is the LLM-backed fallback used when local matching
// finds nothing. Implementations must return ("", nil) rather than an error
// when no confident answer exists.
type AssistedVendorMatcher interface {
	IdentifyVendor(ctx context.Context, text string, vendors []string) (string, error)
}

// Matcher resolves free-form document text to exactly one ledger vendor.
type Matcher struct {
	store    *ledger.Store
	assisted AssistedVendorMatcher
	log      *logger.Logger
}

// NewMatcher creates a Matcher. assisted may be nil, in which case the
// fallback strategy is skipped.
func NewMatcher(store *ledger.Store, assisted AssistedVendorMatcher, log *logger.Logger) *Matcher {
	return &Matcher{store: store, assisted: assisted, log: log}
}

// legal/generic terms excluded from token matching and stripped as suffixes.
var legalSuffixes = []string{"inc", "llc", "corp", "ltd", "company", "co", "services"}

var tokenStopwords = map[string]struct{}{
	"inc": {}, "llc": {}, "corp": {}, "ltd": {}, "company": {}, "co": {},
	"services": {}, "service": {}, "the": {}, "and": {}, "group": {},
	"incorporated": {}, "corporation": {}, "limited": {},
}

const (
	cleanNameMinLen    = 6
	tokenScoreBar      = 0.8
	tokenMinMatched    = 2
	tokenMinLen        = 3 // tokens shorter than this carry no signal
	filenameHintMinLen = 4
)

// Identify runs the ordered matching strategies against the document text.
// filename is an optional last-resort hint (see IdentifyWithHint); pass ""
// when unavailable.
func (m *Matcher) Identify(ctx context.Context, text, filename string) Result {
	lower := strings.ToLower(text)
	vendors := m.store.VendorNames()

	// 1. Exact case-insensitive substring.
	for _, v := range vendors {
		if strings.Contains(lower, strings.ToLower(v)) {
			return Result{Vendor: v, Method: MethodExact}
		}
	}

	// 2. Clean-name match with legal suffixes stripped.
	for _, v := range vendors {
		clean := stripLegalSuffixes(v)
		if len(clean) < cleanNameMinLen {
			continue
		}
		if strings.Contains(lower, strings.ToLower(clean)) {
			return Result{Vendor: v, Method: MethodFuzzy}
		}
	}

	// 3. Weighted token match.
	if r, ok := m.tokenMatch(lower, vendors); ok {
		return r
	}

	// 3b. Filename hint, demoted: only accepted when the hinted name resolves
	// to a ledger vendor through the same local strategies.
	if hint := vendorHintFromFilename(filename); hint != "" {
		if r, ok := m.matchHint(hint, vendors); ok {
			return r
		}
	}

	// 4. Assisted fallback. The answer is trusted only if it names a vendor
	// literally present in the ledger.
	if m.assisted != nil {
		name, err := m.assisted.IdentifyVendor(ctx, text, vendors)
		if err != nil {
			m.log.Warn().Err(err).Msg("Assisted vendor identification failed; treating as no match")
		} else if name != "" && m.store.Get(name) != nil {
			return Result{Vendor: name, Method: MethodAssisted}
		}
	}

	return Result{Method: MethodNone}
}

// tokenMatch scores each vendor by the weight of its significant tokens found
// in the text. Candidates need score >= 0.8 and at least 2 matched tokens;
// ties prefer higher score, then more matched tokens, then ledger order
// (sorted by name, so the result is deterministic).
func (m *Matcher) tokenMatch(lowerText string, vendors []string) (Result, bool) {
	best := Result{}
	bestScore := 0.0
	bestMatched := 0

	for _, v := range vendors {
		score, matched := tokenScore(lowerText, v)
		if score < tokenScoreBar || matched < tokenMinMatched {
			continue
		}
		if score > bestScore || (score == bestScore && matched > bestMatched) {
			best = Result{Vendor: v, Method: MethodFuzzy}
			bestScore = score
			bestMatched = matched
		}
	}
	return best, best.Vendor != ""
}

func tokenScore(lowerText, vendor string) (score float64, matched int) {
	var totalWeight, matchedWeight float64
	for _, tok := range significantTokens(vendor) {
		w := float64(len(tok) - 2)
		if w < 1 {
			w = 1
		}
		totalWeight += w
		if strings.Contains(lowerText, tok) {
			matchedWeight += w
			matched++
		}
	}
	if totalWeight == 0 {
		return 0, 0
	}
	return matchedWeight / totalWeight, matched
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

func significantTokens(vendor string) []string {
	var out []string
	for _, tok := range tokenSplit.Split(strings.ToLower(vendor), -1) {
		if len(tok) < tokenMinLen {
			continue
		}
		if _, stop := tokenStopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func stripLegalSuffixes(name string) string {
	clean := strings.TrimSpace(name)
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(clean)
		for _, suf := range legalSuffixes {
			for _, form := range []string{" " + suf, " " + suf + ".", ", " + suf, ", " + suf + "."} {
				if strings.HasSuffix(lower, form) {
					clean = strings.TrimSpace(clean[:len(clean)-len(form)])
					clean = strings.TrimSuffix(clean, ",")
					changed = true
					lower = strings.ToLower(clean)
				}
			}
		}
	}
	return clean
}

// matchHint resolves a filename-derived vendor hint against the ledger using
// the exact and clean-name strategies only.
func (m *Matcher) matchHint(hint string, vendors []string) (Result, bool) {
	lowerHint := strings.ToLower(hint)
	for _, v := range vendors {
		lv := strings.ToLower(v)
		if strings.Contains(lowerHint, lv) || strings.Contains(lv, lowerHint) {
			return Result{Vendor: v, Method: MethodFuzzy}, true
		}
		clean := strings.ToLower(stripLegalSuffixes(v))
		if len(clean) >= cleanNameMinLen && (strings.Contains(lowerHint, clean) || strings.Contains(clean, lowerHint)) {
			return Result{Vendor: v, Method: MethodFuzzy}, true
		}
	}
	return Result{}, false
}

// Filenames like "25-23487 John Bouchard P25063542.pdf" carry the vendor name
// between a leading numeric reference and a trailing PO number.
var filenameHintPattern = regexp.MustCompile(`(?i)^[\d\-]+\s+(.+?)\s+P\d+\.\w+$`)

func vendorHintFromFilename(filename string) string {
	if filename == "" {
		return ""
	}
	groups := filenameHintPattern.FindStringSubmatch(filename)
	if groups == nil {
		return ""
	}
	hint := strings.TrimSpace(groups[1])
	if len(hint) < filenameHintMinLen {
		return ""
	}
	return hint
}
