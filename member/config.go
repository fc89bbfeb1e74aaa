package member

import (
	"time"

	"github.com/agentuity/go-guildcache/logger"
	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTTL                 = time.Hour
	DefaultChunkSize           = 1000
	DefaultFetchTimeout        = 60 * time.Second
	DefaultLargeGuildTimeout   = 120 * time.Second
	DefaultLargeGuildThreshold = 5000
	DefaultRoleConcurrency     = 4
	// DefaultPersistTimeout bounds writes to the Persister after a fetch.
	DefaultPersistTimeout = 10 * time.Second
)

// Config is the tunable behaviour of a Service.
type Config struct {
	// TTL is the age at which a snapshot stops being served without a refetch.
	TTL time.Duration
	// ChunkSize is passed to the platform for paginated enumeration.
	ChunkSize int
	// FetchTimeout bounds every fetch of a guild at or below the threshold.
	FetchTimeout time.Duration
	// LargeGuildTimeout bounds full fetches of guilds above the threshold.
	LargeGuildTimeout time.Duration
	// LargeGuildMode makes WarmCache fetch large guilds in the background.
	LargeGuildMode bool
	// LargeGuildThreshold is the member count above which a guild is large.
	LargeGuildThreshold int
	// SharedRoleFetches routes role queries through the single-flight full
	// fetch instead of enumerating the guild once per role.
	SharedRoleFetches bool
	// RoleConcurrency limits concurrent per-role enumerations.
	RoleConcurrency int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TTL:                 DefaultTTL,
		ChunkSize:           DefaultChunkSize,
		FetchTimeout:        DefaultFetchTimeout,
		LargeGuildTimeout:   DefaultLargeGuildTimeout,
		LargeGuildMode:      true,
		LargeGuildThreshold: DefaultLargeGuildThreshold,
		RoleConcurrency:     DefaultRoleConcurrency,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.LargeGuildTimeout <= 0 {
		c.LargeGuildTimeout = def.LargeGuildTimeout
	}
	if c.LargeGuildThreshold <= 0 {
		c.LargeGuildThreshold = def.LargeGuildThreshold
	}
	if c.RoleConcurrency <= 0 {
		c.RoleConcurrency = def.RoleConcurrency
	}
	return c
}

// IsLarge reports whether guild is above the large-guild threshold.
func (c Config) IsLarge(guild Guild) bool {
	return guild.MemberCount > c.LargeGuildThreshold
}

// FullFetchTimeout is the deadline of a full enumeration of guild.
func (c Config) FullFetchTimeout(guild Guild) time.Duration {
	if c.IsLarge(guild) {
		return c.LargeGuildTimeout
	}
	return c.FetchTimeout
}

type options struct {
	cfg            Config
	logger         logger.Logger
	clock          clock.Clock
	tracerProvider trace.TracerProvider
	metrics        *Metrics
	persister      Persister
}

// Option configures a Service.
type Option func(*options)

// WithConfig replaces the whole configuration. Zero durations and sizes take
// their defaults; booleans are used as given, so start from DefaultConfig to
// keep LargeGuildMode on.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithTTL sets the snapshot time-to-live. Defaults to DefaultTTL (1 hour).
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.cfg.TTL = d }
}

// WithFetchTimeout sets the standard and large-guild fetch deadlines.
func WithFetchTimeout(standard, large time.Duration) Option {
	return func(o *options) {
		o.cfg.FetchTimeout = standard
		o.cfg.LargeGuildTimeout = large
	}
}

// WithLargeGuilds sets large-guild mode and the member count threshold.
func WithLargeGuilds(enabled bool, threshold int) Option {
	return func(o *options) {
		o.cfg.LargeGuildMode = enabled
		o.cfg.LargeGuildThreshold = threshold
	}
}

// WithSharedRoleFetches makes GetMembersByRole reuse the single-flight full fetch.
func WithSharedRoleFetches(enabled bool) Option {
	return func(o *options) { o.cfg.SharedRoleFetches = enabled }
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used for snapshot ages. Tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPersister mirrors every successful full snapshot to p.
func WithPersister(p Persister) Option {
	return func(o *options) { o.persister = p }
}
