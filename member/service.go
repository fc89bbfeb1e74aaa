package member

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/go-guildcache/logger"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/agentuity/go-guildcache/member"

// Service is the membership cache. Create one with New at startup and pass it
// to every collaborator; it needs no teardown beyond Drain.
type Service struct {
	cfg       Config
	platform  Platform
	store     *Store
	clock     clock.Clock
	logger    logger.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	persister Persister

	// flights collapses concurrent full fetches per guild id.
	flights singleflight.Group

	inflightMu sync.Mutex
	inflight   map[string]time.Time

	background sync.WaitGroup
}

// New returns a Service fetching from platform.
func New(platform Platform, opts ...Option) *Service {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.logger == nil {
		o.logger = logger.NewConsoleLogger()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	return &Service{
		cfg:       o.cfg.withDefaults(),
		platform:  platform,
		store:     NewStore(o.clock),
		clock:     o.clock,
		logger:    o.logger.WithPrefix("[member]"),
		tracer:    o.tracerProvider.Tracer(tracerName),
		metrics:   o.metrics,
		persister: o.persister,
		inflight:  make(map[string]time.Time),
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Store exposes the underlying snapshot store.
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) validEntry(guildID string) (*Snapshot, bool) {
	return s.store.valid(guildID, s.cfg.TTL)
}

func (s *Service) markFetching(guildID string) {
	s.inflightMu.Lock()
	s.inflight[guildID] = s.clock.Now()
	s.inflightMu.Unlock()
}

func (s *Service) unmarkFetching(guildID string) {
	s.inflightMu.Lock()
	delete(s.inflight, guildID)
	s.inflightMu.Unlock()
}

// fetchingSince reports whether a full fetch is running for the guild.
func (s *Service) fetchingSince(guildID string) (time.Time, bool) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	t, ok := s.inflight[guildID]
	return t, ok
}

// call runs fn, turning a panic in the platform client into an error.
func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("platform client panicked: %v", r)
		}
	}()
	return fn()
}

func (s *Service) persist(ctx context.Context, snap *Snapshot, log logger.Logger) {
	if s.persister == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultPersistTimeout)
	defer cancel()
	if err := s.persister.SaveSnapshot(pctx, snap); err != nil {
		log.Warn("failed to persist snapshot: %v", err)
	}
}

// Restore loads persisted snapshots into the store, keeping their original
// LastUpdate. Snapshots older than one already cached are skipped.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	snaps, err := s.persister.LoadSnapshots(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "loading persisted snapshots")
	}
	var restored int
	for _, snap := range snaps {
		if s.store.SetIfNewer(snap) {
			restored++
			s.logger.Debug("restored %d members for guild %s from %s", snap.Len(), snap.GuildID(), snap.LastUpdate().Format(time.RFC3339))
		}
	}
	if restored > 0 {
		s.logger.Info("restored %d persisted guild snapshots", restored)
	}
	return restored, nil
}

// ClearCache drops the snapshots of the given guilds, or of every guild when
// none are given, together with their persisted copies.
func (s *Service) ClearCache(ctx context.Context, guildIDs ...string) int {
	var cleared int
	if len(guildIDs) == 0 {
		guildIDs = s.store.GuildIDs()
		cleared = s.store.InvalidateAll()
	} else {
		for _, id := range guildIDs {
			if s.store.Invalidate(id) {
				cleared++
			}
		}
	}
	s.logger.Info("cleared %d cached guild snapshots", cleared)
	if s.persister != nil && len(guildIDs) > 0 {
		if err := s.persister.DeleteSnapshots(ctx, guildIDs...); err != nil {
			s.logger.Warn("failed to delete persisted snapshots: %v", err)
		}
	}
	return cleared
}

func (s *Service) guildLogger(guildID string) logger.Logger {
	return logger.WithKV(s.logger, "guild", guildID)
}
