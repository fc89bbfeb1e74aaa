// Package member caches guild membership fetched from a rate limited chat
// platform and coordinates the expensive fetches that fill it.
//
// # Service
//
// A [Service] is built once at startup with [New] and shared by every
// collaborator that needs member data. It owns one [Store] (guild id to
// [Snapshot]) and one in-flight table (guild id to pending full fetch).
// There is no package level instance.
//
// # Access patterns
//
//   - [Service.GetAllMembers] returns the full roster. A snapshot younger than
//     the TTL is returned without I/O. Otherwise the caller joins the fetch
//     already running for the guild or starts one; concurrent callers share a
//     single underlying request.
//   - [Service.GetMembersByRole] enumerates the guild once per requested role
//     and merges the filtered results. It does not join the in-flight full
//     fetch unless [WithSharedRoleFetches] is set.
//   - [Service.GetMember] and [Service.GetMembersBatch] serve point lookups
//     from a valid snapshot and fetch only the ids that are missing. Fetched
//     members are upserted into the existing snapshot without changing its
//     LastUpdate.
//
// # Degradation
//
// Full fetches report a typed [Result]. A failed refresh of a guild that has
// any snapshot, however old, yields [StatusStale] with the old data and the
// failure as the reason. Only a guild with no snapshot at all yields
// [StatusFailed], with an error matching [ErrExhausted]. Member not found is
// never an error: [Service.GetMember] returns found=false.
//
// # Warming
//
// [Service.WarmCache] walks every guild the platform client knows. Guilds
// above the large-guild threshold are fetched in the background when large
// guild mode is on; the rest are fetched one after another. [Service.Drain]
// waits for the background work.
//
// # Persistence
//
// A [Persister] (see package persist) receives every successful full
// snapshot. [Service.Restore] loads persisted snapshots at startup with their
// original LastUpdate, so they are served fresh only while inside the TTL and
// otherwise act as fallback data.
package member
