// Package pending owns the map of challenges awaiting resolution. Every read
// prunes expired entries first, so callers never observe a challenge older
// than the TTL.
package pending

import (
	"sync"
	"time"

	"github.com/vitwit/x402-agent/types"
)

// TTL bounds how long an unresolved challenge stays live.
const TTL = 10 * time.Minute

// Store is a TTL-bounded map from challenge id to its interception context.
// Resolution (approve, deny, or error) is the only mutation path besides
// expiry, which keeps a challenge id from being processed twice.
type Store struct {
	mu      sync.Mutex
	entries map[string]types.PendingChallenge
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]types.PendingChallenge),
		now:     time.Now,
	}
}

// NewStoreWithClock is used by tests to control expiry.
func NewStoreWithClock(now func() time.Time) *Store {
	s := NewStore()
	s.now = now
	return s
}

// Put records a challenge with its originating tab/window context. At most
// one live entry exists per challenge id; a re-issued id replaces the old
// entry.
func (s *Store) Put(ch *types.ChallengeDetails, tabID, windowID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ch.ChallengeID] = types.PendingChallenge{
		Challenge:        ch,
		OriginatingTabID: tabID,
		WindowID:         windowID,
		CreatedAt:        s.now(),
	}
}

// Get returns the live entry for id, pruning expired entries first.
func (s *Store) Get(id string) (types.PendingChallenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	entry, ok := s.entries[id]
	return entry, ok
}

// Remove drops the entry for id. Called on approve, deny, and error paths.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// PruneExpired drops every entry older than the TTL.
func (s *Store) PruneExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
}

// Len reports the number of live entries after pruning.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.entries)
}

// Snapshot copies the live entries for persistence into the state document.
func (s *Store) Snapshot() map[string]types.PendingChallenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	out := make(map[string]types.PendingChallenge, len(s.entries))
	for id, entry := range s.entries {
		out[id] = entry
	}
	return out
}

// Restore seeds the store from a persisted map; stale entries are pruned on
// the next read.
func (s *Store) Restore(entries map[string]types.PendingChallenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range entries {
		if entry.Challenge == nil {
			continue
		}
		s.entries[id] = entry
	}
	s.pruneLocked()
}

func (s *Store) pruneLocked() {
	cutoff := s.now().Add(-TTL)
	for id, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}
