package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Attachment is a file attached to outbound correspondence.
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"-"`
}

// OutboundEmail is the payload handed to the messenger collaborator.
// Subject or body MUST embed the [Ref: <token>] tag for every message tied
// to a validation record; callers own that invariant.
type OutboundEmail struct {
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Messenger delivers outbound correspondence. The transport (SMTP, Graph
// API, ...) lives in an external service; this interface is all the engine
// sees.
type Messenger interface {
	SendEmail(ctx context.Context, msg OutboundEmail) error
}

// RefTag formats the correlation tag embedded in correspondence about a
// record.
func RefTag(referenceID string) string {
	return fmt.Sprintf("[Ref: %s]", referenceID)
}

// NATSMessenger hands outbound email to the messenger service over NATS.
type NATSMessenger struct {
	nats    *NATSClient
	subject string
	log     zerolog.Logger
}

// NewNATSMessenger creates a messenger publishing to the given subject.
func NewNATSMessenger(nc *NATSClient, subject string, log zerolog.Logger) *NATSMessenger {
	return &NATSMessenger{nats: nc, subject: subject, log: log}
}

type outboundEnvelope struct {
	To          string               `json:"to"`
	Subject     string               `json:"subject"`
	Body        string               `json:"body"`
	Attachments []envelopeAttachment `json:"attachments,omitempty"`
}

type envelopeAttachment struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

// SendEmail publishes the message for the messenger service to deliver.
// Unlike notification events, delivery failures here matter to callers and
// are returned.
func (m *NATSMessenger) SendEmail(ctx context.Context, msg OutboundEmail) error {
	env := outboundEnvelope{
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	}
	for _, att := range msg.Attachments {
		env.Attachments = append(env.Attachments, envelopeAttachment{
			Filename:      att.Filename,
			ContentBase64: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal outbound email: %w", err)
	}
	if err := m.nats.Publish(ctx, m.subject, data); err != nil {
		return fmt.Errorf("publish outbound email: %w", err)
	}

	m.log.Debug().
		Str("subject", m.subject).
		Str("to", msg.To).
		Int("attachments", len(msg.Attachments)).
		Msg("Outbound email handed to messenger")
	return nil
}
