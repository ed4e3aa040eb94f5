package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord() *ValidationRecord {
	return &ValidationRecord{
		DocumentID:    NewDocumentID(),
		ReferenceID:   NewReferenceID(),
		Filename:      "invoice.pdf",
		OverallStatus: "passed",
		Disposition:   DispositionPending,
	}
}

func TestMemoryStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := newRecord()
	blob := NewDocumentBlob(rec.DocumentID, rec.Filename, []byte("content"))

	require.NoError(t, store.Create(ctx, rec, blob))

	byRef, err := store.GetByReferenceID(ctx, rec.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, rec.DocumentID, byRef.DocumentID)

	byDoc, err := store.GetByDocumentID(ctx, rec.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, rec.ReferenceID, byDoc.ReferenceID)

	gotBlob, err := store.GetBlob(ctx, rec.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, blob.SHA256, gotBlob.SHA256)
}

func TestMemoryStore_CreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := newRecord()
	require.NoError(t, store.Create(ctx, rec, nil))

	dup := newRecord()
	dup.DocumentID = rec.DocumentID
	assert.Error(t, store.Create(ctx, dup, nil))
}

func TestMemoryStore_GetUnknownReference(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetByReferenceID(context.Background(), "NOPE1234")
	assert.Error(t, err)
}

func TestMemoryStore_UpdateDisposition(t *testing.T) {
	ctx := context.Background()

	t.Run("pending to approved", func(t *testing.T) {
		store := NewMemoryStore()
		rec := newRecord()
		require.NoError(t, store.Create(ctx, rec, nil))

		require.NoError(t, store.UpdateDisposition(ctx, rec.DocumentID, DispositionApproved))
		got, err := store.GetByDocumentID(ctx, rec.DocumentID)
		require.NoError(t, err)
		assert.Equal(t, DispositionApproved, got.Disposition)
	})

	t.Run("same value is idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		rec := newRecord()
		require.NoError(t, store.Create(ctx, rec, nil))

		require.NoError(t, store.UpdateDisposition(ctx, rec.DocumentID, DispositionApproved))
		assert.NoError(t, store.UpdateDisposition(ctx, rec.DocumentID, DispositionApproved))
	})

	t.Run("changing a terminal disposition conflicts", func(t *testing.T) {
		store := NewMemoryStore()
		rec := newRecord()
		require.NoError(t, store.Create(ctx, rec, nil))

		require.NoError(t, store.UpdateDisposition(ctx, rec.DocumentID, DispositionApproved))
		assert.Error(t, store.UpdateDisposition(ctx, rec.DocumentID, DispositionRejected))
	})

	t.Run("unknown document", func(t *testing.T) {
		store := NewMemoryStore()
		assert.Error(t, store.UpdateDisposition(ctx, "missing", DispositionApproved))
	})
}

func TestMemoryStore_Events(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := newRecord()
	require.NoError(t, store.Create(ctx, rec, nil))

	for _, action := range []string{"validated", "routed", "approved"} {
		require.NoError(t, store.AppendEvent(ctx, &Event{
			DocumentID:  rec.DocumentID,
			ReferenceID: rec.ReferenceID,
			Action:      action,
			Actor:       "system",
		}))
	}

	events, err := store.EventsByDocumentID(ctx, rec.DocumentID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "validated", events[0].Action)
	assert.Equal(t, "approved", events[2].Action)
	assert.NotEmpty(t, events[0].ID)
}

func TestMemoryStore_ListPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	pending := newRecord()
	require.NoError(t, store.Create(ctx, pending, nil))

	settled := newRecord()
	require.NoError(t, store.Create(ctx, settled, nil))
	require.NoError(t, store.UpdateDisposition(ctx, settled.DocumentID, DispositionRejected))

	got, err := store.ListPending(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.DocumentID, got[0].DocumentID)

	// A cutoff in the past excludes freshly created records.
	got, err = store.ListPending(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewReferenceID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewReferenceID()
		assert.Len(t, id, 8)
		_, dup := seen[id]
		assert.False(t, dup, "reference IDs must not collide")
		seen[id] = struct{}{}
	}
}
