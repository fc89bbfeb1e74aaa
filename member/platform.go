package member

import "context"

// FetchParams tunes a full enumeration.
type FetchParams struct {
	// ChunkSize is the page size used when the platform paginates.
	ChunkSize int
}

// Platform is the chat platform client the cache fetches from. The deadline of
// every call is carried by ctx.
type Platform interface {
	// Guilds lists the guilds known to the client.
	Guilds(ctx context.Context) ([]Guild, error)
	// FetchMembers enumerates every member of the guild.
	FetchMembers(ctx context.Context, guildID string, params FetchParams) ([]Member, error)
	// FetchMember looks up one member and returns an error matching
	// ErrNotFound when the member is not in the guild.
	FetchMember(ctx context.Context, guildID, memberID string) (Member, error)
	// FetchMembersByID looks up several members. Ids that are not in the
	// guild are omitted. A non-nil error may accompany partial results.
	FetchMembersByID(ctx context.Context, guildID string, memberIDs []string) ([]Member, error)
}

// Persister stores snapshots outside the process so they survive restarts.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshots(ctx context.Context) ([]*Snapshot, error)
	DeleteSnapshots(ctx context.Context, guildIDs ...string) error
}
