package audit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facilityops/invoice-engine/internal/route"
	"github.com/facilityops/invoice-engine/internal/validate"
)

// Disposition is the terminal human decision recorded against a document.
// It transitions monotonically pending → approved|rejected and never reverts.
type Disposition string

const (
	DispositionPending  Disposition = "pending"
	DispositionApproved Disposition = "approved"
	DispositionRejected Disposition = "rejected"
)

// Terminal reports whether no further disposition change is allowed.
func (d Disposition) Terminal() bool {
	return d == DispositionApproved || d == DispositionRejected
}

// VendorMatch records how (and whether) the document was matched to a vendor.
type VendorMatch struct {
	Name   *string `json:"name"`
	Method string  `json:"method"` // exact | fuzzy | assisted | none
}

// ValidationRecord is the durable outcome of one document validation attempt.
// Immutable after creation except for Disposition, which only the Approval
// State Machine may change, and only through Store.UpdateDisposition.
type ValidationRecord struct {
	DocumentID    string               `json:"document_id"`
	ReferenceID   string               `json:"reference_id"`
	Filename      string               `json:"filename"`
	VendorMatch   VendorMatch          `json:"vendor_match"`
	POResult      validate.CheckResult `json:"po_result"`
	DateResult    validate.CheckResult `json:"date_result"`
	RateResult    validate.CheckResult `json:"rate_result"`
	Routing       route.Decision       `json:"routing"`
	OverallStatus string               `json:"overall_status"` // passed | failed | partial
	Disposition   Disposition          `json:"disposition"`
	SourceActor   *string              `json:"source_actor,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Summary renders the check outcomes as the plain-text block embedded in
// routed and forwarded correspondence.
func (r *ValidationRecord) Summary() string {
	var b strings.Builder
	line := func(label string, res validate.CheckResult) {
		status := "NEEDS REVIEW"
		switch {
		case res.Passed():
			status = "PASS"
		case res.Failed():
			status = "FAIL"
		}
		fmt.Fprintf(&b, "  %-14s %s — %s\n", label+":", status, res.Reason)
		for _, ev := range res.Evidence {
			fmt.Fprintf(&b, "                 %s\n", ev)
		}
	}
	vendor := "no match"
	if r.VendorMatch.Name != nil {
		vendor = fmt.Sprintf("%s (%s)", *r.VendorMatch.Name, r.VendorMatch.Method)
	}
	fmt.Fprintf(&b, "  %-14s %s\n", "Vendor:", vendor)
	line("PO number", r.POResult)
	line("Service date", r.DateResult)
	line("Billed rate", r.RateResult)
	fmt.Fprintf(&b, "  %-14s %s\n", "Overall:", strings.ToUpper(r.OverallStatus))
	return b.String()
}

// DocumentBlob is the original document, stored by document ID with a content
// digest so identically named uploads from different senders never collide.
type DocumentBlob struct {
	DocumentID string
	Filename   string
	Content    []byte
	SHA256     string
}

// NewDocumentBlob computes the content digest for a blob.
func NewDocumentBlob(documentID, filename string, content []byte) *DocumentBlob {
	sum := sha256.Sum256(content)
	return &DocumentBlob{
		DocumentID: documentID,
		Filename:   filename,
		Content:    content,
		SHA256:     hex.EncodeToString(sum[:]),
	}
}

// Event is one immutable entry in a document's audit trail.
type Event struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	ReferenceID string    `json:"reference_id"`
	Action      string    `json:"action"` // validated | routed | approved | rejected | reminder_sent | reply_malformed
	Actor       string    `json:"actor"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewDocumentID generates a stable opaque document identifier.
func NewDocumentID() string {
	return uuid.NewString()
}

var refEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewReferenceID generates the short correlation token embedded in all
// correspondence about a record. 40 random bits, base32: short enough to
// survive an email round-trip, random enough to avoid collisions under
// concurrent creation.
func NewReferenceID() string {
	var buf [5]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// UUID-derived token rather than panic.
		return uuid.NewString()[:8]
	}
	return refEncoding.EncodeToString(buf[:])
}
