package persist

import (
	"context"
	"io"
	"time"

	"github.com/agentuity/go-guildcache/member"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Store is a member.Persister that holds resources until closed.
type Store interface {
	member.Persister
	io.Closer
}

// DefaultQueryTimeout is the per-operation timeout for backend I/O.
const DefaultQueryTimeout = 5 * time.Second

// DefaultRetention is how long a snapshot is kept after its last update.
const DefaultRetention = 7 * 24 * time.Hour

type config struct {
	queryTimeout    time.Duration
	retention       time.Duration
	cleanupInterval time.Duration
	prefix          string
	clock           clock.Clock
}

// Option configures a Store implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		queryTimeout:    DefaultQueryTimeout,
		retention:       DefaultRetention,
		cleanupInterval: time.Hour,
		clock:           clock.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithQueryTimeout sets the per-operation timeout. Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithRetention sets how long snapshots are kept. Defaults to DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(c *config) { c.retention = d }
}

// WithCleanupInterval sets how often the SQLite backend purges snapshots past
// their retention. Defaults to one hour.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.cleanupInterval = d }
}

// WithPrefix sets the key prefix of the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithClock sets the clock used for retention.
func WithClock(clk clock.Clock) Option {
	return func(c *config) { c.clock = clk }
}

func (c config) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.queryTimeout)
}

// record is the serialized form of a snapshot.
type record struct {
	GuildID    string          `msgpack:"guild_id"`
	LastUpdate time.Time       `msgpack:"last_update"`
	Members    []member.Member `msgpack:"members"`
}

func encode(snap *member.Snapshot) ([]byte, error) {
	data, err := msgpack.Marshal(record{
		GuildID:    snap.GuildID(),
		LastUpdate: snap.LastUpdate(),
		Members:    snap.Members(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "encoding snapshot of guild %s", snap.GuildID())
	}
	return data, nil
}

func decode(data []byte) (*member.Snapshot, error) {
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decoding snapshot")
	}
	for i := range rec.Members {
		rec.Members[i].JoinedAt = rec.Members[i].JoinedAt.UTC()
	}
	return member.NewSnapshot(rec.GuildID, rec.Members, rec.LastUpdate.UTC()), nil
}
