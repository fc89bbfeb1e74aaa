package persist

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/agentuity/go-guildcache/member"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// SQLite keeps snapshots in a SQLite database.
type SQLite struct {
	db        *sql.DB
	cfg       config
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens the database at dbPath. If dbPath is empty or ":memory:",
// an in-memory database is used. Close stops the cleanup goroutine and the
// database.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (*SQLite, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", dbPath)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling WAL")
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS guild_snapshots (
		guild_id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		members INTEGER NOT NULL,
		last_update INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating guild_snapshots")
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_guild_snapshots_last_update ON guild_snapshots(last_update)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating index")
	}

	childCtx, cancel := context.WithCancel(ctx)
	s := &SQLite{db: db, cfg: applyOptions(opts), ctx: childCtx, cancel: cancel}
	if s.cfg.cleanupInterval <= 0 {
		s.cfg.cleanupInterval = time.Hour
	}
	ticker := s.cfg.clock.Ticker(s.cfg.cleanupInterval)
	s.waitGroup.Add(1)
	go s.run(ticker)
	return s, nil
}

func (s *SQLite) SaveSnapshot(ctx context.Context, snap *member.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	qctx, cancel := s.cfg.queryCtx(ctx)
	defer cancel()
	_, err = s.db.ExecContext(qctx,
		`INSERT INTO guild_snapshots (guild_id, data, members, last_update) VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET data = excluded.data, members = excluded.members, last_update = excluded.last_update
		WHERE excluded.last_update >= guild_snapshots.last_update`,
		snap.GuildID(), data, snap.Len(), snap.LastUpdate().UnixNano(),
	)
	return errors.Wrapf(err, "saving snapshot of guild %s", snap.GuildID())
}

func (s *SQLite) LoadSnapshots(ctx context.Context) ([]*member.Snapshot, error) {
	qctx, cancel := s.cfg.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(qctx,
		`SELECT guild_id, data FROM guild_snapshots WHERE last_update >= ? ORDER BY guild_id`,
		s.cutoff(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying snapshots")
	}
	defer rows.Close()
	var snaps []*member.Snapshot
	for rows.Next() {
		var (
			guildID string
			data    []byte
		)
		if err := rows.Scan(&guildID, &data); err != nil {
			return nil, errors.Wrap(err, "scanning snapshot")
		}
		snap, err := decode(data)
		if err != nil {
			return nil, errors.Wrapf(err, "guild %s", guildID)
		}
		snaps = append(snaps, snap)
	}
	return snaps, errors.Wrap(rows.Err(), "reading snapshots")
}

func (s *SQLite) DeleteSnapshots(ctx context.Context, guildIDs ...string) error {
	if len(guildIDs) == 0 {
		return nil
	}
	args := make([]any, len(guildIDs))
	for i, id := range guildIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(guildIDs)), ",")
	qctx, cancel := s.cfg.queryCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx, `DELETE FROM guild_snapshots WHERE guild_id IN (`+placeholders+`)`, args...)
	return errors.Wrap(err, "deleting snapshots")
}

// Purge deletes snapshots past the retention period and returns how many were removed.
func (s *SQLite) Purge(ctx context.Context) (int64, error) {
	qctx, cancel := s.cfg.queryCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(qctx, `DELETE FROM guild_snapshots WHERE last_update < ?`, s.cutoff())
	if err != nil {
		return 0, errors.Wrap(err, "purging snapshots")
	}
	return res.RowsAffected()
}

func (s *SQLite) cutoff() int64 {
	return s.cfg.clock.Now().Add(-s.cfg.retention).UnixNano()
}

func (s *SQLite) Close() error {
	var dbErr error
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
		dbErr = s.db.Close()
	})
	return dbErr
}

func (s *SQLite) run(ticker *clock.Ticker) {
	defer s.waitGroup.Done()
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Purge(s.ctx)
		}
	}
}
