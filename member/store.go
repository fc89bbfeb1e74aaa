package member

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Store holds the latest snapshot of each guild. Readers always receive a
// complete snapshot; writers swap whole snapshots under the lock.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Snapshot
	clock   clock.Clock
}

// NewStore returns an empty store that measures age with clk.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{entries: make(map[string]*Snapshot), clock: clk}
}

// Get returns the snapshot for guildID regardless of its age.
func (s *Store) Get(guildID string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.entries[guildID]
	return snap, ok
}

// Set replaces the snapshot of snap's guild.
func (s *Store) Set(snap *Snapshot) {
	s.mu.Lock()
	s.entries[snap.guildID] = snap
	s.mu.Unlock()
}

// SetIfNewer stores snap unless the guild already has a snapshot with the
// same or a later LastUpdate.
func (s *Store) SetIfNewer(snap *Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[snap.guildID]; ok && !snap.lastUpdate.After(cur.lastUpdate) {
		return false
	}
	s.entries[snap.guildID] = snap
	return true
}

// Upsert adds or replaces members in the guild's snapshot without touching
// LastUpdate. It does nothing when the guild has no snapshot.
func (s *Store) Upsert(guildID string, members ...Member) bool {
	if len(members) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[guildID]
	if !ok {
		return false
	}
	s.entries[guildID] = cur.withUpserts(members)
	return true
}

// Invalidate removes the guild's snapshot.
func (s *Store) Invalidate(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[guildID]
	delete(s.entries, guildID)
	return ok
}

// InvalidateAll removes every snapshot and returns how many were removed.
func (s *Store) InvalidateAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*Snapshot)
	return n
}

// IsValid reports whether the guild has a snapshot younger than ttl.
func (s *Store) IsValid(guildID string, ttl time.Duration) bool {
	_, ok := s.valid(guildID, ttl)
	return ok
}

func (s *Store) valid(guildID string, ttl time.Duration) (*Snapshot, bool) {
	snap, ok := s.Get(guildID)
	if !ok || snap.Age(s.clock.Now()) >= ttl {
		return nil, false
	}
	return snap, true
}

// GuildIDs returns the cached guild ids in ascending order.
func (s *Store) GuildIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
