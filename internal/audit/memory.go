package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/facilityops/invoice-engine/internal/apperr"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs the one-shot
// validate command and tests; the mutex gives it the same single-writer
// discipline the row-per-document Postgres store gets from the database.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ValidationRecord // by document ID
	byRef   map[string]string            // reference ID → document ID
	blobs   map[string]*DocumentBlob
	events  map[string][]*Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*ValidationRecord),
		byRef:   make(map[string]string),
		blobs:   make(map[string]*DocumentBlob),
		events:  make(map[string][]*Event),
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec *ValidationRecord, blob *DocumentBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.DocumentID]; exists {
		return apperr.New(apperr.ErrCodeConflict, "record already exists for document "+rec.DocumentID)
	}
	if _, exists := s.byRef[rec.ReferenceID]; exists {
		return apperr.New(apperr.ErrCodeConflict, "reference "+rec.ReferenceID+" already in use")
	}

	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	cp := *rec
	s.records[rec.DocumentID] = &cp
	s.byRef[rec.ReferenceID] = rec.DocumentID
	if blob != nil {
		s.blobs[blob.DocumentID] = blob
	}
	return nil
}

func (s *MemoryStore) GetByReferenceID(ctx context.Context, referenceID string) (*ValidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docID, ok := s.byRef[referenceID]
	if !ok {
		return nil, apperr.NotFound("validation record", referenceID)
	}
	cp := *s.records[docID]
	return &cp, nil
}

func (s *MemoryStore) GetByDocumentID(ctx context.Context, documentID string) (*ValidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[documentID]
	if !ok {
		return nil, apperr.NotFound("validation record", documentID)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) UpdateDisposition(ctx context.Context, documentID string, disposition Disposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[documentID]
	if !ok {
		return apperr.NotFound("validation record", documentID)
	}
	if rec.Disposition == disposition {
		return nil
	}
	if rec.Disposition.Terminal() {
		return apperr.New(apperr.ErrCodeConflict,
			"disposition already "+string(rec.Disposition)+", cannot change to "+string(disposition))
	}
	rec.Disposition = disposition
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetBlob(ctx context.Context, documentID string) (*DocumentBlob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[documentID]
	if !ok {
		return nil, apperr.NotFound("document blob", documentID)
	}
	return blob, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = uuid.NewString()
	ev.CreatedAt = time.Now()
	s.events[ev.DocumentID] = append(s.events[ev.DocumentID], ev)
	return nil
}

func (s *MemoryStore) EventsByDocumentID(ctx context.Context, documentID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[documentID]
	out := make([]*Event, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) ListPending(ctx context.Context, createdBefore time.Time) ([]*ValidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ValidationRecord
	for _, rec := range s.records {
		if rec.Disposition == DispositionPending && rec.CreatedAt.Before(createdBefore) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
