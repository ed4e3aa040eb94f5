package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/facilityops/invoice-engine/internal/ledger"
)

func agreementWithPO(po string) *ledger.AgreementTerm {
	return &ledger.AgreementTerm{Vendor: "V", CurrentPO: &po}
}

func TestNormalizePO(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"P26003063", "26003063"},
		{"p26003063", "26003063"},
		{"26003063", "26003063"},
		{"P25063542-2", "250635422"},
		{"26000686_1", "260006861"},
		{" P26003063 ", "26003063"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePO(tc.in), tc.in)
	}
}

func TestNormalizePO_VariantsCompareEqual(t *testing.T) {
	// Every separator/prefix spelling of the same order must normalize to a
	// comparable form.
	variants := []string{"P26003063", "p26003063", "26003063", "P26-003063", "26_003063"}
	base := NormalizePO(variants[0])
	for _, v := range variants[1:] {
		assert.Equal(t, base, NormalizePO(v), v)
	}
}

func TestValidatePO_ExactMatch(t *testing.T) {
	r := ValidatePO("Please reference PO P26003063 on all invoices", agreementWithPO("P26003063"))
	assert.True(t, r.Passed())
	assert.Contains(t, r.Evidence, "P26003063")
}

func TestValidatePO_PrefixEitherDirection(t *testing.T) {
	t.Run("document truncates the PO on file", func(t *testing.T) {
		r := ValidatePO("ref 26003063", agreementWithPO("P26003063-2"))
		assert.True(t, r.Passed())
	})
	t.Run("document extends the PO on file", func(t *testing.T) {
		r := ValidatePO("ref P25063542_1", agreementWithPO("P25063542"))
		assert.True(t, r.Passed())
	})
}

func TestValidatePO_NoMatch(t *testing.T) {
	r := ValidatePO("PO 99999999 listed here", agreementWithPO("P26003063"))
	assert.True(t, r.Failed())
	// Candidates found in the document are surfaced as evidence.
	assert.Contains(t, r.Evidence, "99999999")
}

func TestValidatePO_NoCandidatesInDocument(t *testing.T) {
	r := ValidatePO("no order numbers anywhere", agreementWithPO("P26003063"))
	assert.True(t, r.Failed())
	assert.Empty(t, r.Evidence)
}

func TestValidatePO_UndecidableWithoutPOOnFile(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		r := ValidatePO("anything", &ledger.AgreementTerm{Vendor: "V"})
		assert.True(t, r.Undecidable())
	})
	t.Run("blank", func(t *testing.T) {
		blank := "  "
		r := ValidatePO("anything", &ledger.AgreementTerm{Vendor: "V", CurrentPO: &blank})
		assert.True(t, r.Undecidable())
	})
}
