package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/logger"
)

func fixedRateAgreement(amount float64) *ledger.AgreementTerm {
	return &ledger.AgreementTerm{
		Vendor: "V",
		Rate:   ledger.Rate{Type: ledger.RateFixedPeriod, Amount: &amount},
	}
}

func TestExtractAmounts(t *testing.T) {
	amounts := ExtractAmounts("Total: $5,600.00 plus fee 150 and $12,345.67")
	assert.Contains(t, amounts, 5600.00)
	assert.Contains(t, amounts, 150.0)
	assert.Contains(t, amounts, 12345.67)
}

func TestWithinTolerance_Boundaries(t *testing.T) {
	const expected = 1000.0

	cases := []struct {
		name   string
		amount float64
		want   bool
	}{
		{"exact", 1000.00, true},
		{"upper bound", 1050.00, true},
		{"lower bound", 950.00, true},
		{"just above upper", 1050.01, false},
		{"just below lower", 949.99, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, withinTolerance(tc.amount, expected))
		})
	}
}

func TestRateValidator_VariableRateAutoPassesWithReview(t *testing.T) {
	v := NewRateValidator(nil, logger.Nop())
	agreement := &ledger.AgreementTerm{
		Vendor: "V",
		Rate:   ledger.Rate{Type: ledger.RateVariable},
	}

	r := v.Validate(context.Background(), "Total: $99,999.99", agreement)
	assert.True(t, r.Passed())
	assert.True(t, r.RequiresReview)
}

func TestRateValidator_FixedRateWithinTolerance(t *testing.T) {
	v := NewRateValidator(nil, logger.Nop())

	r := v.Validate(context.Background(), "Amount due: $5,450.00", fixedRateAgreement(5600.00))
	assert.True(t, r.Passed())
	assert.False(t, r.RequiresReview)
	require.NotEmpty(t, r.Evidence)
	assert.Equal(t, "5450.00", r.Evidence[0])
}

func TestRateValidator_FixedRateMismatchFails(t *testing.T) {
	v := NewRateValidator(nil, logger.Nop())

	r := v.Validate(context.Background(), "Amount due: $9,000.00", fixedRateAgreement(5600.00))
	assert.True(t, r.Failed())
	assert.Contains(t, r.Evidence, "9000.00")
}

func TestRateValidator_FixedRateNoAmountOnFileUndecidable(t *testing.T) {
	v := NewRateValidator(nil, logger.Nop())
	agreement := &ledger.AgreementTerm{
		Vendor: "V",
		Rate:   ledger.Rate{Type: ledger.RateFixedPeriod},
	}

	r := v.Validate(context.Background(), "Amount due: $100.00", agreement)
	assert.True(t, r.Undecidable())
	assert.True(t, r.RequiresReview)
}

type fakeAmountExtractor struct {
	amounts []float64
	called  bool
}

func (f *fakeAmountExtractor) ExtractAmounts(ctx context.Context, text string, expected float64) ([]float64, error) {
	f.called = true
	return f.amounts, nil
}

func (f *fakeAmountExtractor) ExtractDates(ctx context.Context, text string) ([]string, error) {
	return nil, nil
}

func TestRateValidator_AssistedFallbackFindsAmount(t *testing.T) {
	assisted := &fakeAmountExtractor{amounts: []float64{5600.00}}
	v := NewRateValidator(assisted, logger.Nop())

	// Amount rendered in a table the regex cannot read.
	r := v.Validate(context.Background(), "see attached rate table", fixedRateAgreement(5600.00))
	assert.True(t, assisted.called)
	assert.True(t, r.Passed())
}

func TestRateValidator_AssistedNotCalledWhenLocalAmountMatches(t *testing.T) {
	assisted := &fakeAmountExtractor{amounts: []float64{5600.00}}
	v := NewRateValidator(assisted, logger.Nop())

	r := v.Validate(context.Background(), "Total 5600.00", fixedRateAgreement(5600.00))
	assert.True(t, r.Passed())
	assert.False(t, assisted.called)
}
