// Package persist stores member snapshots outside the process so a restarted
// cache can serve stale data before its first fetch completes.
//
// # Implementations
//
//   - [NewRedis]: one Redis hash per guild holding the msgpack encoded
//     snapshot ("v") and its last update in unix nanoseconds ("u"). Retention
//     uses native Redis TTL. An optional key prefix namespaces several caches
//     on one Redis instance. The caller owns the [redis.Client].
//
//   - [NewSQLite]: a guild_snapshots table in a SQLite database using
//     [modernc.org/sqlite] (pure Go, no CGO). A background goroutine deletes
//     snapshots past the retention period. ":memory:" is supported for tests.
//
//   - [NewComposite]: writes to every backend and, on load, keeps the newest
//     snapshot of each guild across backends.
//
// Every backend satisfies [member.Persister]. A write never replaces a
// snapshot with an older one.
package persist
