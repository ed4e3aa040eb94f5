package approval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/facilityops/invoice-engine/internal/apperr"
	"github.com/facilityops/invoice-engine/internal/audit"
	"github.com/facilityops/invoice-engine/internal/client"
	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/logger"
	"github.com/facilityops/invoice-engine/internal/route"
)

// Message is an inbound reply from a human approver. Ephemeral — never
// persisted.
type Message struct {
	Subject       string
	RawBody       string
	SenderAddress string
}

// Outcome summarizes what the state machine did with a message.
type Outcome string

const (
	// OutcomeIgnored: no [Ref: ...] tag anywhere; not a decision reply.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeApproved / OutcomeRejected: disposition advanced.
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	// OutcomeMalformed: correlated but no recognizable verb; re-prompted.
	OutcomeMalformed Outcome = "malformed"
	// OutcomeNoOp: record already terminal; replay treated as a no-op.
	OutcomeNoOp Outcome = "noop"
)

// StateMachine drives a pending validation record to a terminal disposition
// from correlated email replies. The only mutation it ever performs is
// Store.UpdateDisposition — it never holds a private copy of a record.
type StateMachine struct {
	store     audit.Store
	ledger    *ledger.Store
	messenger client.Messenger
	notifier  *client.NotificationPublisher
	log       *logger.Logger
}

// NewStateMachine creates a StateMachine.
func NewStateMachine(store audit.Store, agreements *ledger.Store, messenger client.Messenger, notifier *client.NotificationPublisher, log *logger.Logger) *StateMachine {
	return &StateMachine{store: store, ledger: agreements, messenger: messenger, notifier: notifier, log: log}
}

var refTagPattern = regexp.MustCompile(`\[Ref:\s*([A-Za-z0-9\-]+)\]`)

// ExtractReferenceID finds the correlation token, searching the subject line
// first and the body second.
func ExtractReferenceID(subject, body string) string {
	if m := refTagPattern.FindStringSubmatch(subject); m != nil {
		return m[1]
	}
	if m := refTagPattern.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

// ParseDecision reads the verb from the first whitespace-delimited token of
// the first body line. Only exactly "approved" or "rejected"
// (case-insensitive) are decisions.
func ParseDecision(body string) (audit.Disposition, bool) {
	firstLine := body
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		firstLine = body[:idx]
	}
	fields := strings.Fields(firstLine)
	if len(fields) == 0 {
		return "", false
	}
	switch strings.ToLower(fields[0]) {
	case "approved":
		return audit.DispositionApproved, true
	case "rejected":
		return audit.DispositionRejected, true
	default:
		return "", false
	}
}

// HandleReply runs one message through the transition function.
func (sm *StateMachine) HandleReply(ctx context.Context, msg Message) (Outcome, error) {
	refID := ExtractReferenceID(msg.Subject, msg.RawBody)
	if refID == "" {
		sm.log.Debug().Str("sender", msg.SenderAddress).Msg("Reply without reference tag; not a decision")
		return OutcomeIgnored, nil
	}

	rec, err := sm.store.GetByReferenceID(ctx, refID)
	if err != nil {
		// Fail closed: an unknown reference changes nothing.
		sm.log.Warn().Str("reference_id", refID).Str("sender", msg.SenderAddress).
			Msg("Decision reply for unknown record")
		return OutcomeIgnored, apperr.Wrap(err, apperr.ErrCodeCorrelationFailed, "record not found for reference "+refID)
	}

	decision, ok := ParseDecision(msg.RawBody)
	if !ok {
		return sm.handleMalformed(ctx, rec, msg)
	}

	// Idempotence: a replayed decision for an already-terminal record must
	// not double-forward or double-notify.
	if rec.Disposition.Terminal() {
		sm.log.Warn().
			Str("reference_id", refID).
			Str("disposition", string(rec.Disposition)).
			Msg("Decision replay for already-settled record; no-op")
		return OutcomeNoOp, nil
	}

	// Claim the record before sending anything: a concurrent replay now sees
	// a terminal disposition and stops at the check above.
	if err := sm.store.UpdateDisposition(ctx, rec.DocumentID, decision); err != nil {
		if apperr.Is(err, apperr.ErrCodeConflict) {
			sm.log.Warn().Str("reference_id", refID).Msg("Record settled concurrently; no-op")
			return OutcomeNoOp, nil
		}
		return "", err
	}

	switch decision {
	case audit.DispositionApproved:
		return sm.handleApproved(ctx, rec, msg)
	default:
		return sm.handleRejected(ctx, rec, msg)
	}
}

// handleApproved finalizes an approval. Forwarding to the vendor's main
// contact is gated on the record having been routed to the financial
// reviewer; approvals on records routed elsewhere settle the disposition and
// notify the submitter but forward nothing.
func (sm *StateMachine) handleApproved(ctx context.Context, rec *audit.ValidationRecord, msg Message) (Outcome, error) {
	notice := fmt.Sprintf("The invoice %s %s was approved by %s.",
		rec.Filename, client.RefTag(rec.ReferenceID), msg.SenderAddress)
	if rec.Routing.ContactRole == route.RoleReviewer {
		if err := sm.forwardToMainContact(ctx, rec); err != nil {
			sm.log.Error().Err(err).
				Str("reference_id", rec.ReferenceID).
				Msg("Failed to forward approved document to main contact")
		} else {
			notice = fmt.Sprintf("Review passed for %s %s. The invoice has advanced to the vendor's main contact for final sign-off.",
				rec.Filename, client.RefTag(rec.ReferenceID))
		}
	} else {
		sm.log.Info().
			Str("reference_id", rec.ReferenceID).
			Str("routed_role", string(rec.Routing.ContactRole)).
			Msg("Approval on record not routed to reviewer; disposition settled without forwarding")
	}

	sm.notifySubmitter(ctx, rec, notice)

	sm.appendEvent(ctx, rec, "approved", msg.SenderAddress, "decision reply accepted")
	sm.notifier.Publish(ctx, client.NotificationEvent{
		EventType:   "invoice_approved",
		DocumentID:  rec.DocumentID,
		ReferenceID: rec.ReferenceID,
		Status:      string(audit.DispositionApproved),
	})

	sm.log.Info().
		Str("reference_id", rec.ReferenceID).
		Str("approved_by", msg.SenderAddress).
		Msg("Invoice approved")
	return OutcomeApproved, nil
}

func (sm *StateMachine) handleRejected(ctx context.Context, rec *audit.ValidationRecord, msg Message) (Outcome, error) {
	reason := rejectionReason(msg.RawBody)
	sm.notifySubmitter(ctx, rec,
		fmt.Sprintf("The invoice %s %s was rejected by %s. Reason: %s",
			rec.Filename, client.RefTag(rec.ReferenceID), msg.SenderAddress, reason))

	sm.appendEvent(ctx, rec, "rejected", msg.SenderAddress, reason)
	sm.notifier.Publish(ctx, client.NotificationEvent{
		EventType:   "invoice_rejected",
		DocumentID:  rec.DocumentID,
		ReferenceID: rec.ReferenceID,
		Status:      string(audit.DispositionRejected),
	})

	sm.log.Info().
		Str("reference_id", rec.ReferenceID).
		Str("rejected_by", msg.SenderAddress).
		Msg("Invoice rejected")
	return OutcomeRejected, nil
}

// handleMalformed re-prompts the sender. The record stays AwaitingDecision;
// malformed input is a transient outcome, not a state.
func (sm *StateMachine) handleMalformed(ctx context.Context, rec *audit.ValidationRecord, msg Message) (Outcome, error) {
	instruction := client.OutboundEmail{
		To:      msg.SenderAddress,
		Subject: fmt.Sprintf("Action needed: invoice decision %s", client.RefTag(rec.ReferenceID)),
		Body: fmt.Sprintf(
			"Your reply about invoice %s could not be understood.\n\n"+
				"Please reply again with exactly \"Approved\" or \"Rejected\" as the first word of your message, keeping %s in the subject.",
			rec.Filename, client.RefTag(rec.ReferenceID)),
	}
	if err := sm.messenger.SendEmail(ctx, instruction); err != nil {
		sm.log.Error().Err(err).Str("reference_id", rec.ReferenceID).Msg("Failed to send malformed-reply instruction")
	}

	sm.appendEvent(ctx, rec, "reply_malformed", msg.SenderAddress, "instruction re-sent")
	sm.log.Info().
		Str("reference_id", rec.ReferenceID).
		Str("sender", msg.SenderAddress).
		Msg("Malformed decision reply; instruction re-sent")
	return OutcomeMalformed, nil
}

// forwardToMainContact sends the original document and the full validation
// outcome to the vendor's main contact after financial review passed.
func (sm *StateMachine) forwardToMainContact(ctx context.Context, rec *audit.ValidationRecord) error {
	vendor := ""
	if rec.VendorMatch.Name != nil {
		vendor = *rec.VendorMatch.Name
	}
	contact := sm.mainContactFor(vendor)
	if contact == "" {
		return apperr.New(apperr.ErrCodeNotFound, "no main contact on file for vendor "+vendor)
	}

	blob, err := sm.store.GetBlob(ctx, rec.DocumentID)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(
		"The attached invoice from %s passed financial review and is ready for final sign-off.\n\n%s\n\nValidation outcome:\n%s",
		vendor, client.RefTag(rec.ReferenceID), rec.Summary())

	msg := client.OutboundEmail{
		To:      contact,
		Subject: fmt.Sprintf("Reviewed invoice from %s %s", vendor, client.RefTag(rec.ReferenceID)),
		Body:    body,
		Attachments: []client.Attachment{
			{Filename: blob.Filename, Content: blob.Content},
		},
	}
	return sm.messenger.SendEmail(ctx, msg)
}

func (sm *StateMachine) notifySubmitter(ctx context.Context, rec *audit.ValidationRecord, body string) {
	if rec.SourceActor == nil || *rec.SourceActor == "" {
		return
	}
	msg := client.OutboundEmail{
		To:      *rec.SourceActor,
		Subject: fmt.Sprintf("Invoice update %s", client.RefTag(rec.ReferenceID)),
		Body:    body,
	}
	if err := sm.messenger.SendEmail(ctx, msg); err != nil {
		sm.log.Error().Err(err).
			Str("reference_id", rec.ReferenceID).
			Str("to", *rec.SourceActor).
			Msg("Failed to notify submitter")
	}
}

// appendEvent writes an audit-trail entry and logs a warning on failure
// (never returns an error).
func (sm *StateMachine) appendEvent(ctx context.Context, rec *audit.ValidationRecord, action, actor, detail string) {
	err := sm.store.AppendEvent(ctx, &audit.Event{
		DocumentID:  rec.DocumentID,
		ReferenceID: rec.ReferenceID,
		Action:      action,
		Actor:       actor,
		Detail:      detail,
	})
	if err != nil {
		sm.log.Warn().Err(err).
			Str("document_id", rec.DocumentID).
			Str("action", action).
			Msg("Failed to write audit event")
	}
}

// rejectionReason takes everything after the verb on the first line, or the
// second line onward, as the human-stated reason.
func rejectionReason(body string) string {
	firstLine := body
	rest := ""
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		firstLine = body[:idx]
		rest = strings.TrimSpace(body[idx+1:])
	}
	fields := strings.Fields(firstLine)
	if len(fields) > 1 {
		return strings.Join(fields[1:], " ")
	}
	if rest != "" {
		return rest
	}
	return "no reason given"
}

// mainContactFor looks the vendor's main contact up at decision time rather
// than from the routing snapshot; the record was routed to the reviewer, not
// the main contact.
func (sm *StateMachine) mainContactFor(vendor string) string {
	if sm.ledger == nil {
		return ""
	}
	term := sm.ledger.Get(vendor)
	if term == nil || term.Contacts.MainContact == nil {
		return ""
	}
	return *term.Contacts.MainContact
}
