package member

import (
	"slices"
	"sort"
	"time"
)

// Member is a user's membership record within a guild.
type Member struct {
	ID          string    `msgpack:"id" json:"id"`
	Username    string    `msgpack:"username" json:"username"`
	DisplayName string    `msgpack:"display_name" json:"display_name"`
	GlobalName  string    `msgpack:"global_name,omitempty" json:"global_name,omitempty"`
	Avatar      string    `msgpack:"avatar,omitempty" json:"avatar,omitempty"`
	Nick        string    `msgpack:"nick,omitempty" json:"nick,omitempty"`
	JoinedAt    time.Time `msgpack:"joined_at" json:"joined_at"`
	Roles       []string  `msgpack:"roles" json:"roles"`
}

// HasRole reports whether the member currently holds roleID.
func (m Member) HasRole(roleID string) bool {
	return slices.Contains(m.Roles, roleID)
}

// clone detaches the role slice from the receiver.
func (m Member) clone() Member {
	m.Roles = slices.Clone(m.Roles)
	return m
}

func (m Member) hasAnyRole(roles map[string]struct{}) bool {
	for _, r := range m.Roles {
		if _, ok := roles[r]; ok {
			return true
		}
	}
	return false
}

// Guild identifies a guild and carries the member count reported by the
// platform, which selects the fetch deadline.
type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	MemberCount int    `json:"member_count"`
}

// MemberSet is a collection of members keyed by member id.
type MemberSet map[string]Member

// IDs returns the member ids in ascending order.
func (s MemberSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Slice returns the members ordered by id.
func (s MemberSet) Slice() []Member {
	out := make([]Member, 0, len(s))
	for _, id := range s.IDs() {
		out = append(out, s[id])
	}
	return out
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
