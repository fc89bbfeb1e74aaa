package persist

import (
	"context"
	"strconv"
	"time"

	"github.com/agentuity/go-guildcache/member"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Redis keeps snapshots in Redis hashes.
type Redis struct {
	client *redis.Client
	cfg    config
}

var _ Store = (*Redis)(nil)

// saveScript writes the snapshot unless the stored one is newer.
var saveScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "u")
if cur and tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
redis.call("HSET", KEYS[1], "v", ARGV[1], "u", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// NewRedis returns a Store backed by client. The caller owns the client
// lifecycle; Close is a no-op.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	return &Redis{client: client, cfg: applyOptions(opts)}
}

func (r *Redis) key(guildID string) string {
	k := "guild:" + guildID
	if r.cfg.prefix == "" {
		return k
	}
	return r.cfg.prefix + ":" + k
}

func (r *Redis) pattern() string {
	return r.key("*")
}

func (r *Redis) SaveSnapshot(ctx context.Context, snap *member.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	ttl := r.cfg.retention - r.cfg.clock.Since(snap.LastUpdate())
	if ttl <= 0 {
		return nil
	}
	qctx, cancel := r.cfg.queryCtx(ctx)
	defer cancel()
	updated := strconv.FormatInt(snap.LastUpdate().UnixNano(), 10)
	if err := saveScript.Run(qctx, r.client, []string{r.key(snap.GuildID())}, data, updated, ttl.Milliseconds()).Err(); err != nil {
		return errors.Wrapf(err, "saving snapshot of guild %s", snap.GuildID())
	}
	return nil
}

func (r *Redis) LoadSnapshots(ctx context.Context) ([]*member.Snapshot, error) {
	qctx, cancel := r.cfg.queryCtx(ctx)
	defer cancel()
	var (
		snaps  []*member.Snapshot
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(qctx, cursor, r.pattern(), 100).Result()
		if err != nil {
			return nil, errors.Wrap(err, "scanning snapshot keys")
		}
		for _, k := range keys {
			data, err := r.client.HGet(qctx, k, "v").Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s", k)
			}
			snap, err := decode(data)
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s", k)
			}
			snaps = append(snaps, snap)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return snaps, nil
}

func (r *Redis) DeleteSnapshots(ctx context.Context, guildIDs ...string) error {
	if len(guildIDs) == 0 {
		return nil
	}
	keys := make([]string, len(guildIDs))
	for i, id := range guildIDs {
		keys[i] = r.key(id)
	}
	qctx, cancel := r.cfg.queryCtx(ctx)
	defer cancel()
	return errors.Wrap(r.client.Del(qctx, keys...).Err(), "deleting snapshots")
}

// TTL returns the remaining retention of the guild's snapshot.
func (r *Redis) TTL(ctx context.Context, guildID string) (time.Duration, error) {
	qctx, cancel := r.cfg.queryCtx(ctx)
	defer cancel()
	return r.client.PTTL(qctx, r.key(guildID)).Result()
}

// Close is a no-op; the caller owns the redis.Client lifecycle.
func (r *Redis) Close() error {
	return nil
}
