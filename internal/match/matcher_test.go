package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/logger"
)

func testStore(names ...string) *ledger.Store {
	terms := make([]ledger.AgreementTerm, 0, len(names))
	for _, n := range names {
		terms = append(terms, ledger.AgreementTerm{Vendor: n})
	}
	return ledger.NewStore(terms)
}

type fakeAssisted struct {
	answer string
	err    error
	called bool
}

func (f *fakeAssisted) IdentifyVendor(ctx context.Context, text string, vendors []string) (string, error) {
	f.called = true
	return f.answer, f.err
}

func TestIdentify_ExactSubstring(t *testing.T) {
	m := NewMatcher(testStore("Capital Fire Protection Co", "Johnson Controls"), nil, logger.Nop())

	r := m.Identify(context.Background(), "Invoice from CAPITAL FIRE PROTECTION CO for services", "")
	assert.Equal(t, "Capital Fire Protection Co", r.Vendor)
	assert.Equal(t, MethodExact, r.Method)
}

func TestIdentify_CleanNameStripsSuffixes(t *testing.T) {
	m := NewMatcher(testStore("Guardian Alarm Services, Inc."), nil, logger.Nop())

	// Document omits the legal tail entirely.
	r := m.Identify(context.Background(), "Remit to: guardian alarm\nPO Box 5", "")
	assert.Equal(t, "Guardian Alarm Services, Inc.", r.Vendor)
	assert.Equal(t, MethodFuzzy, r.Method)
}

func TestIdentify_CleanNameMinimumLength(t *testing.T) {
	// "Cintas" stripped of suffixes is "Cintas" (6 chars, allowed); a vendor
	// whose clean name is shorter must not substring-match on noise.
	m := NewMatcher(testStore("ABC Co"), nil, logger.Nop())

	r := m.Identify(context.Background(), "abc appears here in passing", "")
	assert.Equal(t, MethodNone, r.Method)
}

func TestIdentify_TokenMatch(t *testing.T) {
	m := NewMatcher(testStore("John Bouchard & Sons Company"), nil, logger.Nop())

	// Reordered tokens, no contiguous substring.
	r := m.Identify(context.Background(), "bouchard mechanical - john division invoice", "")
	assert.Equal(t, "John Bouchard & Sons Company", r.Vendor)
	assert.Equal(t, MethodFuzzy, r.Method)
}

func TestIdentify_TokenMatchNeedsTwoTokens(t *testing.T) {
	m := NewMatcher(testStore("Continental Research Corporation"), nil, logger.Nop())

	// Only one significant token present; weight share is below the bar and
	// the two-token floor is not met.
	r := m.Identify(context.Background(), "continental breakfast included", "")
	assert.Equal(t, MethodNone, r.Method)
}

func TestIdentify_TokenMatchDeterministicTieBreak(t *testing.T) {
	// Both vendors share the same significant tokens. The winner must be the
	// same on every run: first in case-insensitive sorted order.
	m := NewMatcher(testStore("Zenith Roofing Co", "Apex Roofing Co"), nil, logger.Nop())

	r1 := m.Identify(context.Background(), "apex zenith roofing invoice", "")
	for i := 0; i < 10; i++ {
		r := m.Identify(context.Background(), "apex zenith roofing invoice", "")
		assert.Equal(t, r1.Vendor, r.Vendor)
	}
}

func TestIdentify_FilenameHintResolvesThroughLedger(t *testing.T) {
	m := NewMatcher(testStore("John Bouchard & Sons Company"), nil, logger.Nop())

	r := m.Identify(context.Background(),
		"scanned document, no readable vendor header",
		"25-23487 John Bouchard P25063542.pdf")
	assert.Equal(t, "John Bouchard & Sons Company", r.Vendor)
	assert.Equal(t, MethodFuzzy, r.Method)
}

func TestIdentify_FilenameHintIgnoredWhenNotOnLedger(t *testing.T) {
	m := NewMatcher(testStore("Capital Fire Protection Co"), nil, logger.Nop())

	r := m.Identify(context.Background(),
		"scanned document",
		"25-00001 Unknown Vendor P12345678.pdf")
	assert.Equal(t, MethodNone, r.Method)
}

func TestIdentify_AssistedTrustedOnlyForLedgerVendors(t *testing.T) {
	t.Run("answer on ledger is accepted", func(t *testing.T) {
		assisted := &fakeAssisted{answer: "Capital Fire Protection Co"}
		m := NewMatcher(testStore("Capital Fire Protection Co"), assisted, logger.Nop())

		r := m.Identify(context.Background(), "illegible scan", "")
		require.True(t, assisted.called)
		assert.Equal(t, "Capital Fire Protection Co", r.Vendor)
		assert.Equal(t, MethodAssisted, r.Method)
	})

	t.Run("hallucinated answer is rejected", func(t *testing.T) {
		assisted := &fakeAssisted{answer: "Totally Made Up LLC"}
		m := NewMatcher(testStore("Capital Fire Protection Co"), assisted, logger.Nop())

		r := m.Identify(context.Background(), "illegible scan", "")
		assert.Equal(t, MethodNone, r.Method)
	})

	t.Run("assisted error degrades to no match", func(t *testing.T) {
		assisted := &fakeAssisted{err: errors.New("timeout")}
		m := NewMatcher(testStore("Capital Fire Protection Co"), assisted, logger.Nop())

		r := m.Identify(context.Background(), "illegible scan", "")
		assert.Equal(t, MethodNone, r.Method)
	})
}

func TestIdentify_AssistedNotCalledWhenLocalMatchExists(t *testing.T) {
	assisted := &fakeAssisted{answer: "Johnson Controls"}
	m := NewMatcher(testStore("Johnson Controls"), assisted, logger.Nop())

	r := m.Identify(context.Background(), "johnson controls invoice 42", "")
	assert.Equal(t, MethodExact, r.Method)
	assert.False(t, assisted.called)
}

func TestStripLegalSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Guardian Alarm Services, Inc.", "Guardian Alarm"},
		{"Capital Fire Protection Co", "Capital Fire Protection"},
		{"Plain Name", "Plain Name"},
		{"Stacked Ltd Co", "Stacked"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stripLegalSuffixes(tc.in), tc.in)
	}
}

func TestVendorHintFromFilename(t *testing.T) {
	assert.Equal(t, "John Bouchard", vendorHintFromFilename("25-23487 John Bouchard P25063542.pdf"))
	assert.Equal(t, "", vendorHintFromFilename("invoice.pdf"))
	assert.Equal(t, "", vendorHintFromFilename(""))
	assert.Equal(t, "", vendorHintFromFilename("25-1 Ab P12345678.pdf"), "hint below minimum length")
}
