package audit

import (
	"context"
	"time"
)

// Store is the Audit Ledger contract. Creation is append-only; the only
// mutation is UpdateDisposition, which is idempotent — re-applying the
// current disposition is a no-op, while changing an already-terminal
// disposition is a conflict.
type Store interface {
	// Create persists a new validation record and its document blob
	// atomically. The record's IDs must already be assigned.
	Create(ctx context.Context, rec *ValidationRecord, blob *DocumentBlob) error

	// GetByReferenceID finds a record by its correlation token.
	GetByReferenceID(ctx context.Context, referenceID string) (*ValidationRecord, error)

	// GetByDocumentID finds a record by document ID.
	GetByDocumentID(ctx context.Context, documentID string) (*ValidationRecord, error)

	// UpdateDisposition transitions a record's disposition. Idempotent.
	UpdateDisposition(ctx context.Context, documentID string, disposition Disposition) error

	// GetBlob returns the stored original document.
	GetBlob(ctx context.Context, documentID string) (*DocumentBlob, error)

	// AppendEvent adds one immutable audit-trail entry.
	AppendEvent(ctx context.Context, ev *Event) error

	// EventsByDocumentID returns a document's audit trail oldest-first.
	EventsByDocumentID(ctx context.Context, documentID string) ([]*Event, error)

	// ListPending returns records still awaiting a decision that were created
	// before the cutoff. Used by the reminder sweep.
	ListPending(ctx context.Context, createdBefore time.Time) ([]*ValidationRecord, error)
}
