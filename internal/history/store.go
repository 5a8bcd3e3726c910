// Package history holds per-call conversation transcripts for the lifetime
// of the process. Entries are keyed by the telephony provider's call ID and
// deleted when the call terminates, or evicted once they go stale.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Speaker identifies which side of the call produced an utterance.
const (
	SpeakerUser   = "user"
	SpeakerSystem = "system"
)

// Utterance is one entry in a call's transcript.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Store reads and writes call transcripts by call ID.
type Store interface {
	Get(callID string) []Utterance
	Replace(callID string, turns []Utterance)
	Delete(callID string)
}

type entry struct {
	turns       []Utterance
	lastUpdated time.Time
}

// MemoryStore is an in-memory Store with TTL eviction. The telephony
// provider serializes webhook deliveries per call, but distinct calls
// arrive concurrently, so access is guarded by a mutex.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a store whose entries are evicted once they have
// not been touched for ttl. A ttl of 0 disables eviction.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the call's transcript, or nil for an unknown call.
func (s *MemoryStore) Get(callID string) []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[callID]
	if !ok {
		return nil
	}
	out := make([]Utterance, len(e.turns))
	copy(out, e.turns)
	return out
}

// Replace overwrites the call's transcript and refreshes its eviction clock.
func (s *MemoryStore) Replace(callID string, turns []Utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]Utterance, len(turns))
	copy(cp, turns)
	s.entries[callID] = &entry{turns: cp, lastUpdated: s.now()}
}

// Delete removes the call's transcript.
func (s *MemoryStore) Delete(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, callID)
}

// Len returns the number of tracked calls.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts entries older than the TTL and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	evicted := 0
	for id, e := range s.entries {
		if e.lastUpdated.Before(cutoff) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs Sweep every interval until ctx is canceled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					slog.Info("history sweep", "evicted", n)
				}
			}
		}
	}()
}
