package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityops/invoice-engine/internal/apperr"
	"github.com/facilityops/invoice-engine/internal/audit"
	"github.com/facilityops/invoice-engine/internal/client"
	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/logger"
	"github.com/facilityops/invoice-engine/internal/match"
	"github.com/facilityops/invoice-engine/internal/route"
	"github.com/facilityops/invoice-engine/internal/validate"
)

func ptr(s string) *string { return &s }

// storeCheckingMessenger fails the test if an email goes out before its
// record is durable.
type storeCheckingMessenger struct {
	t     *testing.T
	store audit.Store
	sent  []client.OutboundEmail
}

func (m *storeCheckingMessenger) SendEmail(ctx context.Context, msg client.OutboundEmail) error {
	m.t.Helper()
	refID := extractRef(msg.Subject)
	if refID != "" {
		_, err := m.store.GetByReferenceID(context.Background(), refID)
		assert.NoError(m.t, err, "outbound email sent before its record was persisted")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func extractRef(subject string) string {
	start := strings.Index(subject, "[Ref: ")
	if start < 0 {
		return ""
	}
	rest := subject[start+len("[Ref: "):]
	end := strings.Index(rest, "]")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func testAgreements() *ledger.Store {
	amount := 5600.00
	return ledger.NewStore([]ledger.AgreementTerm{
		{
			Vendor:    "Capital Fire Protection Co",
			CurrentPO: ptr("P26003063"),
			POWindow: &ledger.DateWindow{
				Start: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
			},
			Rate: ledger.Rate{Type: ledger.RateFixedPeriod, Amount: &amount},
			Contacts: ledger.Contacts{
				MainContact:       ptr("main@capital.example"),
				Admin:             ptr("admin@capital.example"),
				FinancialReviewer: ptr("reviewer@capital.example"),
			},
		},
		{
			Vendor: "Johnson Controls",
			Rate:   ledger.Rate{Type: ledger.RateVariable},
			Contacts: ledger.Contacts{
				FinancialReviewer: ptr("reviewer@jci.example"),
			},
		},
		{
			// No contacts at all: routing falls through to unknown.
			Vendor: "Orbit Cleaning Services",
			Rate:   ledger.Rate{Type: ledger.RateVariable},
		},
	})
}

type harness struct {
	eng       *Engine
	store     *audit.MemoryStore
	messenger *storeCheckingMessenger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Nop()
	agreements := testAgreements()
	store := audit.NewMemoryStore()
	messenger := &storeCheckingMessenger{t: t, store: store}

	eng := New(Config{
		Agreements:    agreements,
		Matcher:       match.NewMatcher(agreements, nil, log),
		DateValidator: validate.NewDateValidator(nil, log),
		RateValidator: validate.NewRateValidator(nil, log),
		Store:         store,
		Extractor:     client.PlainTextExtractor{},
		Messenger:     messenger,
	}, log)
	return &harness{eng: eng, store: store, messenger: messenger}
}

const cleanInvoice = `Capital Fire Protection Co
Invoice 1234
PO: P26003063
Service date: 08/15/2025
Annual inspection total: $5,600.00`

func TestProcessDocument_CleanPassRoutesToMainContact(t *testing.T) {
	h := newHarness(t)

	rec, err := h.eng.ProcessDocument(context.Background(), Document{
		Filename:    "capital-invoice.pdf",
		Content:     []byte(cleanInvoice),
		SourceActor: "submitter@client.example",
	})
	require.NoError(t, err)

	assert.Equal(t, "passed", rec.OverallStatus)
	assert.True(t, rec.POResult.Passed())
	assert.True(t, rec.DateResult.Passed())
	assert.True(t, rec.RateResult.Passed())
	assert.Equal(t, route.RoleMainContact, rec.Routing.ContactRole)
	assert.Equal(t, "main@capital.example", rec.Routing.ContactName)
	assert.Equal(t, audit.DispositionPending, rec.Disposition)
	require.NotNil(t, rec.VendorMatch.Name)
	assert.Equal(t, "Capital Fire Protection Co", *rec.VendorMatch.Name)

	// Routed email carries the reference tag and the decision instructions.
	require.Len(t, h.messenger.sent, 1)
	routed := h.messenger.sent[0]
	assert.Equal(t, "main@capital.example", routed.To)
	assert.Contains(t, routed.Subject, client.RefTag(rec.ReferenceID))
	assert.Contains(t, routed.Body, "Approved")
	assert.Contains(t, routed.Body, "Rejected")

	// Blob and audit trail are durable.
	blob, err := h.store.GetBlob(context.Background(), rec.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, []byte(cleanInvoice), blob.Content)

	events, err := h.store.EventsByDocumentID(context.Background(), rec.DocumentID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "validated", events[0].Action)
	assert.Equal(t, "routed", events[1].Action)
}

func TestProcessDocument_FailedCheckRoutesToAdmin(t *testing.T) {
	h := newHarness(t)

	text := `Capital Fire Protection Co
PO: P99999999
Service date: 08/15/2025
Total: $5,600.00`

	rec, err := h.eng.ProcessDocument(context.Background(), Document{
		Filename: "bad-po.pdf",
		Content:  []byte(text),
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", rec.OverallStatus)
	assert.True(t, rec.POResult.Failed())
	assert.Equal(t, route.RoleAdmin, rec.Routing.ContactRole)
	assert.Contains(t, rec.Routing.Reason, "purchase order")

	require.Len(t, h.messenger.sent, 1)
	assert.Equal(t, "admin@capital.example", h.messenger.sent[0].To)
}

func TestProcessDocument_VariableRateRoutesToReviewer(t *testing.T) {
	h := newHarness(t)

	rec, err := h.eng.ProcessDocument(context.Background(), Document{
		Filename: "jci.pdf",
		Content:  []byte("Johnson Controls quarterly service, total $3,210.55"),
	})
	require.NoError(t, err)

	assert.Equal(t, "partial", rec.OverallStatus)
	assert.True(t, rec.RateResult.Passed())
	assert.True(t, rec.RateResult.RequiresReview)
	assert.Equal(t, route.RoleReviewer, rec.Routing.ContactRole)
}

func TestProcessDocument_NoVendorMatchRecordsFailure(t *testing.T) {
	h := newHarness(t)

	rec, err := h.eng.ProcessDocument(context.Background(), Document{
		Filename:    "mystery.pdf",
		Content:     []byte("completely unrelated text with no vendor"),
		SourceActor: "submitter@client.example",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrCodeNoVendorMatch))
	assert.Nil(t, rec)

	// A failure record exists and the submitter got exactly one notice.
	pending, listErr := h.store.ListPending(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, listErr)
	require.Len(t, pending, 1)
	assert.Equal(t, "failed", pending[0].OverallStatus)
	assert.Equal(t, route.RoleUnknown, pending[0].Routing.ContactRole)

	require.Len(t, h.messenger.sent, 1)
	notice := h.messenger.sent[0]
	assert.Equal(t, "submitter@client.example", notice.To)
	assert.Contains(t, notice.Subject, client.RefTag(pending[0].ReferenceID))
}

func TestProcessDocument_UnknownContactNotifiesSubmitter(t *testing.T) {
	h := newHarness(t)

	rec, err := h.eng.ProcessDocument(context.Background(), Document{
		Filename:    "orbit.pdf",
		Content:     []byte("Orbit Cleaning Services monthly visit, total $420.00"),
		SourceActor: "submitter@client.example",
	})
	require.NoError(t, err)
	assert.Equal(t, route.RoleUnknown, rec.Routing.ContactRole)

	// No contact to route to, so the only email is the submitter notice.
	require.Len(t, h.messenger.sent, 1)
	notice := h.messenger.sent[0]
	assert.Equal(t, "submitter@client.example", notice.To)
	assert.Contains(t, notice.Subject, client.RefTag(rec.ReferenceID))
	assert.Contains(t, notice.Body, "Orbit Cleaning Services")
}

func TestProcessDocument_BinaryContentWithoutExtractor(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.ProcessDocument(context.Background(), Document{
		Filename:    "scan.pdf",
		Content:     []byte{0xff, 0xfe, 0x00, 0x01},
		SourceActor: "submitter@client.example",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrCodeExtractionFailed))

	// The submitter hears about the extraction failure.
	require.Len(t, h.messenger.sent, 1)
	assert.Equal(t, "submitter@client.example", h.messenger.sent[0].To)
}

func TestProcessDocument_FailureWithoutSourceActorStaysQuiet(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.ProcessDocument(context.Background(), Document{
		Filename: "scan.pdf",
		Content:  []byte{0xff, 0xfe, 0x00, 0x01},
	})
	require.Error(t, err)
	assert.Empty(t, h.messenger.sent)
}

func TestProcessBatch_ContinuesPastFailures(t *testing.T) {
	h := newHarness(t)

	records := h.eng.ProcessBatch(context.Background(), []Document{
		{Filename: "good.pdf", Content: []byte(cleanInvoice)},
		{Filename: "mystery.pdf", Content: []byte("no vendor here")},
		{Filename: "jci.pdf", Content: []byte("Johnson Controls service visit")},
	})

	// The unmatched document yields no returned record but the rest proceed.
	require.Len(t, records, 2)
	assert.Equal(t, "good.pdf", records[0].Filename)
	assert.Equal(t, "jci.pdf", records[1].Filename)
}

func TestProcessDocument_DistinctReferenceIDs(t *testing.T) {
	h := newHarness(t)

	// The same bytes submitted twice are two independent records.
	first, err := h.eng.ProcessDocument(context.Background(), Document{
		Filename: "capital-invoice.pdf",
		Content:  []byte(cleanInvoice),
	})
	require.NoError(t, err)
	second, err := h.eng.ProcessDocument(context.Background(), Document{
		Filename: "capital-invoice.pdf",
		Content:  []byte(cleanInvoice),
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.DocumentID, second.DocumentID)
	assert.NotEqual(t, first.ReferenceID, second.ReferenceID)
}
