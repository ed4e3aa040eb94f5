package route

import (
	"strings"

	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/validate"
)

// Role identifies which kind of contact an invoice is routed to.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleReviewer    Role = "reviewer"
	RoleMainContact Role = "main-contact"
	// RoleUnknown is terminal: no contact is on file at all and the document
	// needs manual intervention. It must never be silently dropped.
	RoleUnknown Role = "unknown"
)

// Decision names the human who should see this invoice next and why.
type Decision struct {
	ContactName string `json:"contact_name"`
	ContactRole Role   `json:"contact_role"`
	Reason      string `json:"reason"`
}

// Decide maps validation outcomes to a contact. Pure function:
//   - any hard failure → admin (needs human correction before anything else)
//   - variable rate (requires review) → financial reviewer
//   - fully validated fixed-rate invoice → main contact for final sign-off
//
// If the decided contact is absent on the agreement, fall back
// reviewer → admin → unknown.
func Decide(po, date, rate validate.CheckResult, agreement *ledger.AgreementTerm) Decision {
	if po.Failed() || date.Failed() || rate.Failed() {
		var failures []string
		if po.Failed() {
			failures = append(failures, "purchase order")
		}
		if date.Failed() {
			failures = append(failures, "service date")
		}
		if rate.Failed() {
			failures = append(failures, "rate")
		}
		reason := "validation failed: " + strings.Join(failures, ", ")
		return resolveContact(agreement, RoleAdmin, reason)
	}

	if rate.RequiresReview {
		return resolveContact(agreement, RoleReviewer,
			"rate requires manual determination before approval")
	}

	return resolveContact(agreement, RoleMainContact,
		"all checks passed; fixed-rate invoice needs final sign-off")
}

// resolveContact picks the named contact for the wanted role, walking the
// fallback chain when the agreement has gaps.
func resolveContact(agreement *ledger.AgreementTerm, want Role, reason string) Decision {
	contacts := agreement.Contacts

	pick := func(name *string, role Role) (Decision, bool) {
		if name == nil || strings.TrimSpace(*name) == "" {
			return Decision{}, false
		}
		d := Decision{ContactName: *name, ContactRole: role, Reason: reason}
		if role != want {
			d.Reason = reason + " (preferred " + string(want) + " contact not on file)"
		}
		return d, true
	}

	// Preferred contact first.
	switch want {
	case RoleAdmin:
		if d, ok := pick(contacts.Admin, RoleAdmin); ok {
			return d
		}
	case RoleReviewer:
		if d, ok := pick(contacts.FinancialReviewer, RoleReviewer); ok {
			return d
		}
	case RoleMainContact:
		if d, ok := pick(contacts.MainContact, RoleMainContact); ok {
			return d
		}
	}

	// Fallback chain: reviewer → admin → unknown. Re-testing the preferred
	// field is harmless since it was already absent.
	if d, ok := pick(contacts.FinancialReviewer, RoleReviewer); ok {
		return d
	}
	if d, ok := pick(contacts.Admin, RoleAdmin); ok {
		return d
	}

	return Decision{
		ContactName: "unknown",
		ContactRole: RoleUnknown,
		Reason:      reason + "; no contact on file, manual intervention required",
	}
}
