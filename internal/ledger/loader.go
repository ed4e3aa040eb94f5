package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// feedRecord is one row of the exported agreement feed. The upstream export
// tool emits strings for almost everything, including dates as Excel serial
// numbers, so parsing here is deliberately tolerant.
type feedRecord struct {
	Vendor            string          `json:"vendor"`
	CurrentPO         *string         `json:"current_po"`
	POStart           json.RawMessage `json:"po_start"`
	POEnd             json.RawMessage `json:"po_end"`
	RateType          string          `json:"rate_type"`
	RateAmount        *float64        `json:"rate_amount"`
	MainContact       *string         `json:"main_contact"`
	Admin             *string         `json:"admin"`
	FinancialReviewer *string         `json:"financial_reviewer"`
}

// LoadFeed reads the agreement feed file and builds the Reference Ledger.
func LoadFeed(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger feed: %w", err)
	}
	return ParseFeed(data)
}

// ParseFeed parses the JSON agreement feed.
func ParseFeed(data []byte) (*Store, error) {
	var records []feedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse ledger feed: %w", err)
	}

	terms := make([]AgreementTerm, 0, len(records))
	for _, rec := range records {
		term := AgreementTerm{
			Vendor:    strings.TrimSpace(rec.Vendor),
			CurrentPO: trimPtr(rec.CurrentPO),
			Rate:      parseRate(rec.RateType, rec.RateAmount),
			Contacts: Contacts{
				MainContact:       trimPtr(rec.MainContact),
				Admin:             trimPtr(rec.Admin),
				FinancialReviewer: trimPtr(rec.FinancialReviewer),
			},
		}

		start, okStart := parseFeedDate(rec.POStart)
		end, okEnd := parseFeedDate(rec.POEnd)
		if okStart && okEnd {
			term.POWindow = &DateWindow{Start: start, End: end}
		}

		terms = append(terms, term)
	}
	return NewStore(terms), nil
}

func parseRate(rateType string, amount *float64) Rate {
	switch strings.ToLower(strings.TrimSpace(rateType)) {
	case "variable", "as needed", "as-needed":
		return Rate{Type: RateVariable}
	case "":
		// No rate data on file at all: treated as variable so the rate check
		// auto-passes with a review flag.
		if amount == nil {
			return Rate{Type: RateVariable}
		}
		return Rate{Type: RateFixedPeriod, Amount: amount}
	default:
		// annual, monthly, weekly, hourly, biannual, ...
		return Rate{Type: RateFixedPeriod, Amount: amount}
	}
}

// excelEpoch is the day-zero of Excel serial dates (the 1900 system with its
// leap-year bug accounted for).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var feedDateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"2 January 2006",
}

// parseFeedDate accepts a JSON string in any supported layout or a raw
// number interpreted as an Excel serial date.
func parseFeedDate(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range feedDateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		// Serial number exported as a string.
		if serial, err := strconv.ParseFloat(s, 64); err == nil {
			return fromExcelSerial(serial), true
		}
		return time.Time{}, false
	}

	var serial float64
	if err := json.Unmarshal(raw, &serial); err == nil {
		return fromExcelSerial(serial), true
	}
	return time.Time{}, false
}

func fromExcelSerial(serial float64) time.Time {
	return excelEpoch.AddDate(0, 0, int(serial))
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "nan") {
		return nil
	}
	return &v
}
