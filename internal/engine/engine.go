package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facilityops/invoice-engine/internal/apperr"
	"github.com/facilityops/invoice-engine/internal/audit"
	"github.com/facilityops/invoice-engine/internal/client"
	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/logger"
	"github.com/facilityops/invoice-engine/internal/match"
	"github.com/facilityops/invoice-engine/internal/route"
	"github.com/facilityops/invoice-engine/internal/validate"
)

// Document is one inbound invoice to validate. Text may be pre-extracted
// (replayed documents, tests); when empty the configured extractor runs.
type Document struct {
	Filename    string
	Content     []byte
	Text        string
	SourceActor string
}

// Engine runs the full validation pipeline for a document: extract, match,
// validate, route, persist, notify. The audit write always happens before any
// outbound correspondence, so a record exists for every email that can draw a
// reply.
type Engine struct {
	agreements      *ledger.Store
	matcher         *match.Matcher
	dates           *validate.DateValidator
	rates           *validate.RateValidator
	store           audit.Store
	extractor       client.TextExtractor
	messenger       client.Messenger
	notifier        *client.NotificationPublisher
	documentTimeout time.Duration
	log             *logger.Logger
}

// Config wires an Engine.
type Config struct {
	Agreements      *ledger.Store
	Matcher         *match.Matcher
	DateValidator   *validate.DateValidator
	RateValidator   *validate.RateValidator
	Store           audit.Store
	Extractor       client.TextExtractor
	Messenger       client.Messenger
	Notifier        *client.NotificationPublisher
	DocumentTimeout time.Duration
}

// New creates an Engine.
func New(cfg Config, log *logger.Logger) *Engine {
	timeout := cfg.DocumentTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Engine{
		agreements:      cfg.Agreements,
		matcher:         cfg.Matcher,
		dates:           cfg.DateValidator,
		rates:           cfg.RateValidator,
		store:           cfg.Store,
		extractor:       cfg.Extractor,
		messenger:       cfg.Messenger,
		notifier:        cfg.Notifier,
		documentTimeout: timeout,
		log:             log,
	}
}

// ProcessBatch validates documents one at a time, in order. A failing
// document is logged and recorded; it never stops the batch.
func (e *Engine) ProcessBatch(ctx context.Context, docs []Document) []*audit.ValidationRecord {
	records := make([]*audit.ValidationRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := e.ProcessDocument(ctx, doc)
		if err != nil {
			e.log.Error().Err(err).Str("filename", doc.Filename).Msg("Document processing failed")
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records
}

// ProcessDocument runs one document through the pipeline under the
// per-document timeout. A record is persisted for every document that got an
// ID, including extraction and matching failures, so the audit trail never
// has gaps.
func (e *Engine) ProcessDocument(ctx context.Context, doc Document) (*audit.ValidationRecord, error) {
	docCtx, cancel := context.WithTimeout(ctx, e.documentTimeout)
	defer cancel()

	documentID := audit.NewDocumentID()
	referenceID := audit.NewReferenceID()
	log := logger.Logger{Logger: e.log.With().
		Str("document_id", documentID).
		Str("reference_id", referenceID).
		Str("filename", doc.Filename).
		Logger()}

	rec, err := e.validateDocument(docCtx, doc, documentID, referenceID)
	if err != nil {
		// Deadline expiry and mid-pipeline failures still leave a failed
		// record behind; the write uses a fresh context because docCtx may
		// already be dead.
		if errors.Is(docCtx.Err(), context.DeadlineExceeded) {
			err = apperr.Wrap(err, apperr.ErrCodeTimeout,
				fmt.Sprintf("document processing exceeded %s", e.documentTimeout))
		}
		e.persistFailure(ctx, doc, documentID, referenceID, err)
		log.Error().Err(err).Msg("Validation pipeline failed")
		return nil, err
	}

	log.Info().
		Str("status", rec.OverallStatus).
		Str("routed_to", rec.Routing.ContactName).
		Str("routed_role", string(rec.Routing.ContactRole)).
		Msg("Document validated and routed")

	// Audit write happens before anything leaves the building.
	e.sendRouted(docCtx, rec, &log)
	return rec, nil
}

// validateDocument is the pipeline body: everything up to and including the
// audit write.
func (e *Engine) validateDocument(ctx context.Context, doc Document, documentID, referenceID string) (*audit.ValidationRecord, error) {
	text := doc.Text
	if text == "" {
		extracted, err := e.extractor.ExtractText(ctx, doc.Filename, doc.Content)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeExtractionFailed, "text extraction failed")
		}
		text = extracted
	}

	m := e.matcher.Identify(ctx, text, doc.Filename)
	if m.Method == match.MethodNone {
		return nil, apperr.New(apperr.ErrCodeNoVendorMatch, "document could not be matched to any vendor on file")
	}
	agreement := e.agreements.Get(m.Vendor)
	if agreement == nil {
		return nil, apperr.New(apperr.ErrCodeNoVendorMatch, "matched vendor has no agreement on file: "+m.Vendor)
	}

	poResult := validate.ValidatePO(text, agreement)
	dateResult := e.dates.Validate(ctx, text, agreement)
	rateResult := e.rates.Validate(ctx, text, agreement)
	decision := route.Decide(poResult, dateResult, rateResult, agreement)

	now := time.Now().UTC()
	rec := &audit.ValidationRecord{
		DocumentID:  documentID,
		ReferenceID: referenceID,
		Filename:    doc.Filename,
		VendorMatch: audit.VendorMatch{Name: &m.Vendor, Method: string(m.Method)},
		POResult:    poResult,
		DateResult:  dateResult,
		RateResult:  rateResult,
		Routing:     decision,
		OverallStatus: validate.OverallStatus(
			poResult, dateResult, rateResult),
		Disposition: audit.DispositionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if doc.SourceActor != "" {
		actor := doc.SourceActor
		rec.SourceActor = &actor
	}

	blob := audit.NewDocumentBlob(documentID, doc.Filename, doc.Content)
	if err := e.store.Create(ctx, rec, blob); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "persisting validation record")
	}
	e.appendEvent(ctx, rec, "validated", rec.OverallStatus)
	e.appendEvent(ctx, rec, "routed",
		fmt.Sprintf("%s (%s): %s", decision.ContactName, decision.ContactRole, decision.Reason))

	e.notifier.Publish(ctx, client.NotificationEvent{
		EventType:   "invoice_validated",
		DocumentID:  documentID,
		ReferenceID: referenceID,
		Vendor:      m.Vendor,
		Status:      rec.OverallStatus,
	})
	return rec, nil
}

// sendRouted emails the routed contact with the validation outcome and the
// decision instructions. A send failure is logged, not returned: the record
// is already durable and the reminder sweep will retry contact.
func (e *Engine) sendRouted(ctx context.Context, rec *audit.ValidationRecord, log *logger.Logger) {
	vendor := ""
	if rec.VendorMatch.Name != nil {
		vendor = *rec.VendorMatch.Name
	}

	if rec.Routing.ContactRole == route.RoleUnknown {
		log.Error().Msg("No contact on file; document held for manual intervention")
		e.notifySubmitter(ctx, rec,
			fmt.Sprintf("no contact is on file for %s; the document is held for manual intervention", vendor))
		return
	}
	msg := client.OutboundEmail{
		To: rec.Routing.ContactName,
		Subject: fmt.Sprintf("Invoice from %s needs your decision %s",
			vendor, client.RefTag(rec.ReferenceID)),
		Body: fmt.Sprintf(
			"An invoice (%s) from %s was validated and routed to you.\n\nReason: %s\n\nValidation outcome:\n%s\n"+
				"Reply with \"Approved\" or \"Rejected\" as the first word of your message, keeping %s in the subject.",
			rec.Filename, vendor, rec.Routing.Reason, rec.Summary(), client.RefTag(rec.ReferenceID)),
	}
	if err := e.messenger.SendEmail(ctx, msg); err != nil {
		log.Error().Err(err).Str("to", rec.Routing.ContactName).Msg("Failed to send routed invoice email")
		return
	}

	e.notifier.Publish(ctx, client.NotificationEvent{
		EventType:   "invoice_routed",
		DocumentID:  rec.DocumentID,
		ReferenceID: rec.ReferenceID,
		Vendor:      vendor,
		Contact:     rec.Routing.ContactName,
	})
}

// persistFailure records a terminal pipeline failure so the audit trail shows
// the attempt. Uses a context detached from the (possibly expired) document
// deadline.
func (e *Engine) persistFailure(parent context.Context, doc Document, documentID, referenceID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer cancel()

	reason := apperr.CodeOf(cause)
	failed := validate.CheckResult{Reason: "not evaluated: " + string(reason)}
	now := time.Now().UTC()
	rec := &audit.ValidationRecord{
		DocumentID:  documentID,
		ReferenceID: referenceID,
		Filename:    doc.Filename,
		VendorMatch: audit.VendorMatch{Method: string(match.MethodNone)},
		POResult:    failed,
		DateResult:  failed,
		RateResult:  failed,
		Routing: route.Decision{
			ContactName: "unknown",
			ContactRole: route.RoleUnknown,
			Reason:      cause.Error(),
		},
		OverallStatus: "failed",
		Disposition:   audit.DispositionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if doc.SourceActor != "" {
		actor := doc.SourceActor
		rec.SourceActor = &actor
	}

	blob := audit.NewDocumentBlob(documentID, doc.Filename, doc.Content)
	if err := e.store.Create(ctx, rec, blob); err != nil {
		e.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to persist failure record")
		return
	}
	e.appendEvent(ctx, rec, "validated", "failed: "+cause.Error())
	e.notifySubmitter(ctx, rec, cause.Error())
}

// notifySubmitter sends the original submitter one message about a document
// that reached a terminal outcome without being routed for a decision. Skipped
// when the submission carried no source actor.
func (e *Engine) notifySubmitter(ctx context.Context, rec *audit.ValidationRecord, outcome string) {
	if rec.SourceActor == nil || *rec.SourceActor == "" {
		return
	}
	msg := client.OutboundEmail{
		To: *rec.SourceActor,
		Subject: fmt.Sprintf("Invoice %s could not be processed %s",
			rec.Filename, client.RefTag(rec.ReferenceID)),
		Body: fmt.Sprintf(
			"Your document %s was not routed for a decision.\n\nOutcome: %s\n\nQuote %s in any follow-up.",
			rec.Filename, outcome, client.RefTag(rec.ReferenceID)),
	}
	if err := e.messenger.SendEmail(ctx, msg); err != nil {
		e.log.Error().Err(err).Str("to", *rec.SourceActor).Msg("Failed to notify submitter")
	}
}

func (e *Engine) appendEvent(ctx context.Context, rec *audit.ValidationRecord, action, detail string) {
	err := e.store.AppendEvent(ctx, &audit.Event{
		DocumentID:  rec.DocumentID,
		ReferenceID: rec.ReferenceID,
		Action:      action,
		Actor:       "system",
		Detail:      detail,
	})
	if err != nil {
		e.log.Warn().Err(err).
			Str("document_id", rec.DocumentID).
			Str("action", action).
			Msg("Failed to write audit event")
	}
}
