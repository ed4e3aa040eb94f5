package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeed_StringDates(t *testing.T) {
	feed := `[{
		"vendor": "Capital Fire Protection Co",
		"current_po": "P26003063",
		"po_start": "2025-07-01",
		"po_end": "2026-06-30",
		"rate_type": "annual",
		"rate_amount": 5600.00,
		"main_contact": "Dan Worthington",
		"admin": "Laura Cruz",
		"financial_reviewer": "Nathan Yoder"
	}]`

	store, err := ParseFeed([]byte(feed))
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	term := store.Get("Capital Fire Protection Co")
	require.NotNil(t, term)
	require.NotNil(t, term.CurrentPO)
	assert.Equal(t, "P26003063", *term.CurrentPO)
	require.NotNil(t, term.POWindow)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), term.POWindow.Start)
	assert.Equal(t, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), term.POWindow.End)
	assert.Equal(t, RateFixedPeriod, term.Rate.Type)
	require.NotNil(t, term.Rate.Amount)
	assert.Equal(t, 5600.00, *term.Rate.Amount)
	require.NotNil(t, term.Contacts.FinancialReviewer)
	assert.Equal(t, "Nathan Yoder", *term.Contacts.FinancialReviewer)
}

func TestParseFeed_ExcelSerialDates(t *testing.T) {
	// Serial 45839 = 2025-07-01 in the 1900 date system.
	feed := `[{
		"vendor": "Johnson Controls",
		"current_po": "P25063542",
		"po_start": 45839,
		"po_end": "46203",
		"rate_type": "monthly",
		"rate_amount": 1200
	}]`

	store, err := ParseFeed([]byte(feed))
	require.NoError(t, err)

	term := store.Get("Johnson Controls")
	require.NotNil(t, term)
	require.NotNil(t, term.POWindow)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), term.POWindow.Start)
	assert.Equal(t, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), term.POWindow.End)
}

func TestParseFeed_VariableRate(t *testing.T) {
	cases := []struct {
		name     string
		rateType string
	}{
		{"variable", "variable"},
		{"as needed", "as needed"},
		{"as-needed", "as-needed"},
		{"empty with no amount", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			feed := `[{"vendor": "V", "rate_type": "` + tc.rateType + `"}]`
			store, err := ParseFeed([]byte(feed))
			require.NoError(t, err)
			term := store.Get("V")
			require.NotNil(t, term)
			assert.Equal(t, RateVariable, term.Rate.Type)
			assert.Nil(t, term.Rate.Amount)
		})
	}
}

func TestParseFeed_NaNContactsDropped(t *testing.T) {
	feed := `[{
		"vendor": "Acme Services",
		"rate_type": "variable",
		"main_contact": "NaN",
		"admin": "  ",
		"financial_reviewer": "Real Person"
	}]`

	store, err := ParseFeed([]byte(feed))
	require.NoError(t, err)

	term := store.Get("Acme Services")
	require.NotNil(t, term)
	assert.Nil(t, term.Contacts.MainContact)
	assert.Nil(t, term.Contacts.Admin)
	require.NotNil(t, term.Contacts.FinancialReviewer)
	assert.Equal(t, "Real Person", *term.Contacts.FinancialReviewer)
}

func TestParseFeed_MissingDatesLeaveNoWindow(t *testing.T) {
	feed := `[{"vendor": "V", "po_start": "2025-07-01", "po_end": null, "rate_type": "annual"}]`
	store, err := ParseFeed([]byte(feed))
	require.NoError(t, err)
	assert.Nil(t, store.Get("V").POWindow)
}

func TestStore_VendorNamesSorted(t *testing.T) {
	store := NewStore([]AgreementTerm{
		{Vendor: "zeta"},
		{Vendor: "Alpha"},
		{Vendor: "miDDle"},
	})
	assert.Equal(t, []string{"Alpha", "miDDle", "zeta"}, store.VendorNames())
}

func TestDateWindow_ContainsInclusive(t *testing.T) {
	w := DateWindow{
		Start: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, w.Contains(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)), "start day is in")
	assert.True(t, w.Contains(time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)), "end day is in")
	assert.True(t, w.Contains(time.Date(2026, 6, 30, 23, 0, 0, 0, time.UTC)), "time of day is ignored")
	assert.False(t, w.Contains(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)))
}
