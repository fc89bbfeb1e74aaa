package member

import (
	"maps"
	"time"
)

// Snapshot is the cached roster of one guild as of LastUpdate. A Snapshot is
// never modified after it is published; upserts produce a new Snapshot.
type Snapshot struct {
	guildID    string
	members    map[string]Member
	lastUpdate time.Time
}

// NewSnapshot builds a snapshot from members. Later duplicates of an id win.
func NewSnapshot(guildID string, members []Member, lastUpdate time.Time) *Snapshot {
	m := make(map[string]Member, len(members))
	for _, mem := range members {
		if mem.ID == "" {
			continue
		}
		m[mem.ID] = mem.clone()
	}
	return &Snapshot{guildID: guildID, members: m, lastUpdate: lastUpdate}
}

func (s *Snapshot) GuildID() string {
	return s.guildID
}

// LastUpdate is the time of the full fetch that produced the snapshot.
func (s *Snapshot) LastUpdate() time.Time {
	return s.lastUpdate
}

func (s *Snapshot) Len() int {
	return len(s.members)
}

// Member returns the member with id, if present.
func (s *Snapshot) Member(id string) (Member, bool) {
	m, ok := s.members[id]
	return m.clone(), ok
}

// Members returns every member ordered by id.
func (s *Snapshot) Members() []Member {
	return s.Set().Slice()
}

// Set returns a copy of the roster keyed by member id. Members are copies
// too, so callers may modify them.
func (s *Snapshot) Set() MemberSet {
	out := make(MemberSet, len(s.members))
	for id, m := range s.members {
		out[id] = m.clone()
	}
	return out
}

// WithRoles returns the members holding at least one of roleIDs.
func (s *Snapshot) WithRoles(roleIDs ...string) MemberSet {
	roles := toSet(roleIDs)
	out := make(MemberSet)
	for id, m := range s.members {
		if m.hasAnyRole(roles) {
			out[id] = m.clone()
		}
	}
	return out
}

// Age is the time elapsed since LastUpdate.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.lastUpdate)
}

func (s *Snapshot) withUpserts(members []Member) *Snapshot {
	next := &Snapshot{
		guildID:    s.guildID,
		members:    make(map[string]Member, len(s.members)+len(members)),
		lastUpdate: s.lastUpdate,
	}
	maps.Copy(next.members, s.members)
	for _, m := range members {
		if m.ID != "" {
			next.members[m.ID] = m.clone()
		}
	}
	return next
}
