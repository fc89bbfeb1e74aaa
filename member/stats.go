package member

import (
	"sort"
	"time"
)

// GuildStats describes the cache state of one guild.
type GuildStats struct {
	GuildID    string        `json:"guild_id"`
	Members    int           `json:"members"`
	LastUpdate time.Time     `json:"last_update"`
	Age        time.Duration `json:"age"`
	Valid      bool          `json:"valid"`
	Fetching   bool          `json:"fetching"`
	// FetchingFor is how long the running full fetch has taken so far.
	FetchingFor time.Duration `json:"fetching_for,omitempty"`
}

type CacheStats struct {
	TTL          time.Duration `json:"ttl"`
	TotalMembers int           `json:"total_members"`
	Guilds       []GuildStats  `json:"guilds"`
}

// Stats reports every cached guild plus guilds whose first fetch is running.
func (s *Service) Stats() CacheStats {
	now := s.clock.Now()
	stats := CacheStats{TTL: s.cfg.TTL}
	seen := make(map[string]struct{})
	for _, id := range s.store.GuildIDs() {
		snap, ok := s.store.Get(id)
		if !ok {
			continue
		}
		gs := GuildStats{
			GuildID:    id,
			Members:    snap.Len(),
			LastUpdate: snap.LastUpdate(),
			Age:        snap.Age(now),
		}
		gs.Valid = gs.Age < s.cfg.TTL
		if since, ok := s.fetchingSince(id); ok {
			gs.Fetching = true
			gs.FetchingFor = now.Sub(since)
		}
		stats.TotalMembers += gs.Members
		stats.Guilds = append(stats.Guilds, gs)
		seen[id] = struct{}{}
	}
	s.inflightMu.Lock()
	for id, since := range s.inflight {
		if _, ok := seen[id]; ok {
			continue
		}
		stats.Guilds = append(stats.Guilds, GuildStats{GuildID: id, Fetching: true, FetchingFor: now.Sub(since)})
	}
	s.inflightMu.Unlock()
	sort.Slice(stats.Guilds, func(i, j int) bool {
		return stats.Guilds[i].GuildID < stats.Guilds[j].GuildID
	})
	return stats
}
