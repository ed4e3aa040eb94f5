package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// RateType classifies how a vendor bills.
type RateType string

const (
	// RateVariable covers "variable" and "as needed" billing; amounts cannot
	// be checked against a reference figure.
	RateVariable RateType = "variable"
	// RateFixedPeriod covers annual/monthly/etc. billing with a known amount.
	RateFixedPeriod RateType = "fixed-period"
)

// DateWindow is an inclusive [Start, End] validity range.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether d falls inside the window, inclusive both ends.
func (w DateWindow) Contains(d time.Time) bool {
	day := d.Truncate(24 * time.Hour)
	return !day.Before(w.Start.Truncate(24*time.Hour)) && !day.After(w.End.Truncate(24*time.Hour))
}

// Rate is a vendor's billing arrangement.
type Rate struct {
	Type   RateType `json:"type"`
	Amount *float64 `json:"amount,omitempty"`
}

// Contacts are the three possible human contacts on an agreement. Any of
// them may be absent.
type Contacts struct {
	MainContact       *string `json:"main_contact,omitempty"`
	Admin             *string `json:"admin,omitempty"`
	FinancialReviewer *string `json:"financial_reviewer,omitempty"`
}

// AgreementTerm holds one vendor's service agreement reference data.
type AgreementTerm struct {
	Vendor    string      `json:"vendor"`
	CurrentPO *string     `json:"current_po,omitempty"`
	POWindow  *DateWindow `json:"po_window,omitempty"`
	Rate      Rate        `json:"rate"`
	Contacts  Contacts    `json:"contacts"`
}

// Store is the in-memory Reference Ledger. It is populated once at startup
// and read-only afterwards, so it is safe to share across document tasks.
type Store struct {
	mu      sync.RWMutex
	byName  map[string]*AgreementTerm
	ordered []string // vendor names sorted case-insensitively
}

// NewStore builds a store from the given terms. Vendor names are unique;
// a later duplicate replaces an earlier one. Iteration order is sorted by
// name so matching is deterministic regardless of feed order.
func NewStore(terms []AgreementTerm) *Store {
	s := &Store{byName: make(map[string]*AgreementTerm, len(terms))}
	for i := range terms {
		t := terms[i]
		name := strings.TrimSpace(t.Vendor)
		if name == "" {
			continue
		}
		t.Vendor = name
		if _, exists := s.byName[name]; !exists {
			s.ordered = append(s.ordered, name)
		}
		s.byName[name] = &t
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		return strings.ToLower(s.ordered[i]) < strings.ToLower(s.ordered[j])
	})
	return s
}

// Get returns the agreement for an exact vendor name, or nil.
func (s *Store) Get(vendor string) *AgreementTerm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byName[vendor]
}

// VendorNames returns all vendor names in sorted order.
func (s *Store) VendorNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len returns the number of vendors on file.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}
