package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memRecord struct {
	snapshot Snapshot
	info     DocumentInfo
}

// MemoryStore is an in-memory implementation of DocumentStore.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*memRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*memRecord)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.docs[id]
	if !ok {
		now := time.Now()
		rec = &memRecord{
			snapshot: Snapshot{Payload: emptyPayload, Title: DefaultTitle},
			info:     DocumentInfo{ID: id, Title: DefaultTitle, CreatedAt: now, UpdatedAt: now},
		}
		s.docs[id] = rec
	}
	snap := rec.snapshot
	return &snap, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, payload json.RawMessage, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %q not found", id)
	}
	rec.snapshot = Snapshot{
		Payload: append(json.RawMessage(nil), payload...),
		Title:   title,
	}
	rec.info.Title = title
	rec.info.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]DocumentInfo, 0, len(s.docs))
	for _, rec := range s.docs {
		result = append(result, rec.info)
	}
	return result, nil
}
