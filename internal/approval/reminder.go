package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/facilityops/invoice-engine/internal/audit"
	"github.com/facilityops/invoice-engine/internal/client"
	"github.com/facilityops/invoice-engine/internal/logger"
	"github.com/facilityops/invoice-engine/internal/route"
)

// Sweeper nudges approvers about records that have sat in pending past the
// configured age. Each record is reminded at most once.
type Sweeper struct {
	store     audit.Store
	messenger client.Messenger
	notifier  *client.NotificationPublisher
	after     time.Duration
	log       *logger.Logger
}

// NewSweeper creates a reminder sweeper.
func NewSweeper(store audit.Store, messenger client.Messenger, notifier *client.NotificationPublisher, after time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{store: store, messenger: messenger, notifier: notifier, after: after, log: log}
}

// Run performs one sweep. Individual record failures are logged and skipped
// so one bad record never starves the rest of the batch.
func (s *Sweeper) Run(ctx context.Context) {
	cutoff := time.Now().Add(-s.after)
	pending, err := s.store.ListPending(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Reminder sweep: listing pending records failed")
		return
	}

	reminded := 0
	for _, rec := range pending {
		ok, err := s.remind(ctx, rec)
		if err != nil {
			s.log.Error().Err(err).Str("reference_id", rec.ReferenceID).Msg("Reminder sweep: record skipped")
			continue
		}
		if ok {
			reminded++
		}
	}

	s.log.Info().
		Int("pending", len(pending)).
		Int("reminded", reminded).
		Msg("Reminder sweep complete")
}

func (s *Sweeper) remind(ctx context.Context, rec *audit.ValidationRecord) (bool, error) {
	events, err := s.store.EventsByDocumentID(ctx, rec.DocumentID)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if ev.Action == "reminder_sent" {
			return false, nil
		}
	}

	// Failure records sit in pending with no real contact; they are for
	// manual intervention, not reminders.
	if rec.Routing.ContactName == "" || rec.Routing.ContactRole == route.RoleUnknown {
		return false, nil
	}

	msg := client.OutboundEmail{
		To:      rec.Routing.ContactName,
		Subject: fmt.Sprintf("Reminder: invoice decision pending %s", client.RefTag(rec.ReferenceID)),
		Body: fmt.Sprintf(
			"The invoice %s is still awaiting your decision.\n\n"+
				"Reply with \"Approved\" or \"Rejected\" as the first word of your message, keeping %s in the subject.\n\nValidation outcome:\n%s",
			rec.Filename, client.RefTag(rec.ReferenceID), rec.Summary()),
	}
	if err := s.messenger.SendEmail(ctx, msg); err != nil {
		return false, err
	}

	if err := s.store.AppendEvent(ctx, &audit.Event{
		DocumentID:  rec.DocumentID,
		ReferenceID: rec.ReferenceID,
		Action:      "reminder_sent",
		Actor:       "system",
		Detail:      "pending past " + s.after.String(),
	}); err != nil {
		s.log.Warn().Err(err).Str("document_id", rec.DocumentID).Msg("Failed to record reminder event")
	}

	s.notifier.Publish(ctx, client.NotificationEvent{
		EventType:   "invoice_reminder",
		DocumentID:  rec.DocumentID,
		ReferenceID: rec.ReferenceID,
		Contact:     rec.Routing.ContactName,
	})
	return true, nil
}
