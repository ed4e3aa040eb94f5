package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/facilityops/invoice-engine/internal/apperr"
	"github.com/facilityops/invoice-engine/internal/database"
)

// PostgresStore persists the Audit Ledger in PostgreSQL: one row per document
// in validation_records (unique index on reference_id), one row per blob in
// document_blobs. Row-per-document keeps concurrent creations race-free
// without any read-modify-write cycle.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, rec *ValidationRecord, blob *DocumentBlob) error {
	poJSON, dateJSON, rateJSON, routingJSON, matchJSON, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO validation_records
			    (document_id, reference_id, filename,
			     vendor_match, po_result, date_result, rate_result,
			     routing, overall_status, disposition, source_actor)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			rec.DocumentID,
			rec.ReferenceID,
			rec.Filename,
			matchJSON,
			poJSON,
			dateJSON,
			rateJSON,
			routingJSON,
			rec.OverallStatus,
			string(rec.Disposition),
			rec.SourceActor,
		).Scan(&rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create validation record")
		}

		if blob != nil {
			blobQuery := `
				INSERT INTO document_blobs (document_id, filename, content, sha256)
				VALUES ($1, $2, $3, $4)
			`
			if _, err := tx.Exec(ctx, blobQuery,
				blob.DocumentID, blob.Filename, blob.Content, blob.SHA256); err != nil {
				return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to store document blob")
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetByReferenceID(ctx context.Context, referenceID string) (*ValidationRecord, error) {
	return s.getBy(ctx, "reference_id", referenceID)
}

func (s *PostgresStore) GetByDocumentID(ctx context.Context, documentID string) (*ValidationRecord, error) {
	return s.getBy(ctx, "document_id", documentID)
}

func (s *PostgresStore) getBy(ctx context.Context, column, value string) (*ValidationRecord, error) {
	query := `
		SELECT document_id, reference_id, filename,
		       vendor_match, po_result, date_result, rate_result,
		       routing, overall_status, disposition, source_actor,
		       created_at, updated_at
		FROM validation_records
		WHERE ` + column + ` = $1
	`

	rec := &ValidationRecord{}
	var matchJSON, poJSON, dateJSON, rateJSON, routingJSON []byte
	var disposition string

	err := s.db.QueryRow(ctx, query, value).Scan(
		&rec.DocumentID,
		&rec.ReferenceID,
		&rec.Filename,
		&matchJSON,
		&poJSON,
		&dateJSON,
		&rateJSON,
		&routingJSON,
		&rec.OverallStatus,
		&disposition,
		&rec.SourceActor,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("validation record", value)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get validation record")
	}

	rec.Disposition = Disposition(disposition)
	if err := unmarshalRecord(rec, matchJSON, poJSON, dateJSON, rateJSON, routingJSON); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateDisposition transitions pending → approved|rejected. The WHERE clause
// admits the transition only from pending or from the same value, making the
// update idempotent without a read-check-write race.
func (s *PostgresStore) UpdateDisposition(ctx context.Context, documentID string, disposition Disposition) error {
	query := `
		UPDATE validation_records
		SET disposition = $2,
		    updated_at = NOW()
		WHERE document_id = $1
		  AND (disposition = 'pending' OR disposition = $2)
		RETURNING document_id
	`

	var returned string
	err := s.db.QueryRow(ctx, query, documentID, string(disposition)).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the record does not exist or it already carries a different
		// terminal disposition.
		current, getErr := s.GetByDocumentID(ctx, documentID)
		if getErr != nil {
			return getErr
		}
		return apperr.New(apperr.ErrCodeConflict,
			"disposition already "+string(current.Disposition)+", cannot change to "+string(disposition))
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to update disposition")
	}
	return nil
}

func (s *PostgresStore) GetBlob(ctx context.Context, documentID string) (*DocumentBlob, error) {
	query := `
		SELECT document_id, filename, content, sha256
		FROM document_blobs
		WHERE document_id = $1
	`

	blob := &DocumentBlob{}
	err := s.db.QueryRow(ctx, query, documentID).Scan(
		&blob.DocumentID, &blob.Filename, &blob.Content, &blob.SHA256)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("document blob", documentID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get document blob")
	}
	return blob, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *Event) error {
	query := `
		INSERT INTO audit_events (document_id, reference_id, action, actor, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		ev.DocumentID, ev.ReferenceID, ev.Action, ev.Actor, ev.Detail,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to append audit event")
	}
	return nil
}

func (s *PostgresStore) EventsByDocumentID(ctx context.Context, documentID string) ([]*Event, error) {
	query := `
		SELECT id, document_id, reference_id, action, actor, detail, created_at
		FROM audit_events
		WHERE document_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get audit events")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(
			&ev.ID, &ev.DocumentID, &ev.ReferenceID,
			&ev.Action, &ev.Actor, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan audit event")
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, createdBefore time.Time) ([]*ValidationRecord, error) {
	query := `
		SELECT document_id
		FROM validation_records
		WHERE disposition = 'pending'
		  AND created_at < $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(ctx, query, createdBefore)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list pending records")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan pending record")
		}
		ids = append(ids, id)
	}

	records := make([]*ValidationRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetByDocumentID(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ── JSON column helpers ───────────────────────────────────────────────────────

func marshalRecord(rec *ValidationRecord) (po, date, rate, routing, match []byte, err error) {
	marshal := func(v any) []byte {
		if err != nil {
			return nil
		}
		var data []byte
		data, err = json.Marshal(v)
		return data
	}
	po = marshal(rec.POResult)
	date = marshal(rec.DateResult)
	rate = marshal(rec.RateResult)
	routing = marshal(rec.Routing)
	match = marshal(rec.VendorMatch)
	if err != nil {
		return nil, nil, nil, nil, nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal validation record")
	}
	return po, date, rate, routing, match, nil
}

func unmarshalRecord(rec *ValidationRecord, matchJSON, poJSON, dateJSON, rateJSON, routingJSON []byte) error {
	fields := []struct {
		data []byte
		dst  any
	}{
		{matchJSON, &rec.VendorMatch},
		{poJSON, &rec.POResult},
		{dateJSON, &rec.DateResult},
		{rateJSON, &rec.RateResult},
		{routingJSON, &rec.Routing},
	}
	for _, f := range fields {
		if f.data == nil {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal validation record")
		}
	}
	return nil
}
