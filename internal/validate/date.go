package validate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/logger"
)

type datePattern struct {
	re      *regexp.Regexp
	layouts []string
}

// Supported document date formats: MM/DD/YYYY, YYYY-MM-DD, "Month DD, YYYY"
// and "DD Month YYYY". Two-digit years are accepted for the slash form.
var datePatterns = []datePattern{
	{
		re:      regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
		layouts: []string{"01/02/2006", "1/2/2006", "01/02/06", "1/2/06"},
	},
	{
		re:      regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		layouts: []string{"2006-01-02"},
	},
	{
		re:      regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s*\d{4}\b`),
		layouts: []string{"January 2, 2006", "January 2,2006"},
	},
	{
		re:      regexp.MustCompile(`(?i)\b\d{1,2}\s+(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4}\b`),
		layouts: []string{"2 January 2006"},
	},
}

// ExtractDates finds every date-like token in the text, parses it, and
// returns the de-duplicated set in chronological order.
func ExtractDates(text string) []time.Time {
	seen := make(map[string]time.Time)
	for _, p := range datePatterns {
		for _, tok := range p.re.FindAllString(text, -1) {
			normalized := normalizeMonthCase(tok)
			for _, layout := range p.layouts {
				if t, err := time.Parse(layout, normalized); err == nil {
					seen[t.Format("2006-01-02")] = t
					break
				}
			}
		}
	}

	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// normalizeMonthCase title-cases month names so "AUGUST 15, 2025" and
// "august 15, 2025" both parse with the standard layouts.
func normalizeMonthCase(tok string) string {
	var b strings.Builder
	startOfWord := true
	for _, r := range tok {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		switch {
		case isLetter && startOfWord:
			b.WriteRune(toUpper(r))
			startOfWord = false
		case isLetter:
			b.WriteRune(toLower(r))
		default:
			b.WriteRune(r)
			startOfWord = true
		}
	}
	return b.String()
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// DateValidator checks extracted service dates against the vendor's PO window.
type DateValidator struct {
	assisted AssistedExtractor
	log      *logger.Logger
}

// NewDateValidator creates a DateValidator. assisted may be nil.
func NewDateValidator(assisted AssistedExtractor, log *logger.Logger) *DateValidator {
	return &DateValidator{assisted: assisted, log: log}
}

// Validate is satisfied when ANY extracted date falls inside the window,
// inclusive both ends. Undecidable when the vendor has no window on file.
// When local extraction finds nothing, the assisted extractor is consulted
// before failing.
func (v *DateValidator) Validate(ctx context.Context, text string, agreement *ledger.AgreementTerm) CheckResult {
	if agreement.POWindow == nil {
		return undecidable("no agreement date window on file for this vendor")
	}
	window := *agreement.POWindow

	dates := ExtractDates(text)
	if len(dates) == 0 && v.assisted != nil {
		dates = v.assistedDates(ctx, text)
	}
	if len(dates) == 0 {
		return fail("no dates found in document")
	}

	var inRange, outOfRange []string
	for _, d := range dates {
		if window.Contains(d) {
			inRange = append(inRange, d.Format("2006-01-02"))
		} else {
			outOfRange = append(outOfRange, d.Format("2006-01-02"))
		}
	}

	windowDesc := fmt.Sprintf("%s to %s",
		window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))

	if len(inRange) > 0 {
		return pass(fmt.Sprintf("document dates within agreement window %s", windowDesc), inRange...)
	}
	// Report every out-of-range date found so a reviewer can see what the
	// document actually contained.
	return fail(fmt.Sprintf("no document date within agreement window %s", windowDesc), outOfRange...)
}

func (v *DateValidator) assistedDates(ctx context.Context, text string) []time.Time {
	raw, err := v.assisted.ExtractDates(ctx, text)
	if err != nil {
		v.log.Warn().Err(err).Msg("Assisted date extraction failed; treating as no dates found")
		return nil
	}
	var out []time.Time
	for _, s := range raw {
		if t, err := time.Parse("2006-01-02", strings.TrimSpace(s)); err == nil {
			out = append(out, t)
		}
	}
	return out
}
