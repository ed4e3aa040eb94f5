package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// NotificationPublisher publishes engine lifecycle events to NATS for
// consumption by downstream dashboards and the notifications service.
//
// Subject convention: <prefix>.<event_type>
// Event types: invoice_validated, invoice_routed, invoice_approved,
//              invoice_rejected, invoice_reminder
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt document processing.
type NotificationPublisher struct {
	nats   *NATSClient
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType   string         `json:"event_type"`
	DocumentID  string         `json:"document_id"`
	ReferenceID string         `json:"reference_id"`
	Vendor      string         `json:"vendor,omitempty"`
	Status      string         `json:"status,omitempty"`
	Contact     string         `json:"contact,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. nc may be nil, in which case
// every publish is a silent no-op (one-shot CLI mode).
func NewNotificationPublisher(nc *NATSClient, prefix string, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nc, prefix: prefix, log: log}
}

// Publish emits one lifecycle event.
func (p *NotificationPublisher) Publish(ctx context.Context, event NotificationEvent) {
	if p == nil || p.nats == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, event.EventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("document_id", event.DocumentID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("document_id", event.DocumentID).
		Msg("notification: event published")
}
