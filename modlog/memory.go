package modlog

import (
	"context"
	"sync"

	"github.com/onnwee/mod-tender/audit"
)

// MemoryStore keeps the most recent entries in memory. It backs the mod log
// when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	max      int
	entries  []Entry
	failures []audit.Failure
}

// NewMemoryStore keeps at most max entries; max <= 0 means 1000.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 1000
	}
	return &MemoryStore{max: max}
}

func (s *MemoryStore) Insert(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.max; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

// Recent returns up to limit entries for channel, newest first. An empty
// channel matches all channels.
func (s *MemoryStore) Recent(_ context.Context, channel string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Entry{}
	for i := len(s.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if channel == "" || s.entries[i].Channel == channel {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertFailure(_ context.Context, f audit.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return nil
}

// Failures returns the recorded audit failures.
func (s *MemoryStore) Failures() []audit.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Failure(nil), s.failures...)
}
