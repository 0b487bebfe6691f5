package audit

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// MemorySink stores violation records in memory (development/testing use)
type MemorySink struct {
	mu      sync.Mutex
	records []model.ViolationEvent
}

// NewMemorySink creates a new in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Ingest appends the record to the in-memory store
func (s *MemorySink) Ingest(_ context.Context, ev model.ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, ev)
	return nil
}

// Records returns a copy of all stored records
func (s *MemorySink) Records() []model.ViolationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ViolationEvent, len(s.records))
	copy(out, s.records)
	return out
}

// Count returns the number of stored records
func (s *MemorySink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
