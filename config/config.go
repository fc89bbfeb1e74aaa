// Package config loads guildcache settings from defaults, a YAML file,
// GUILDCACHE_* environment variables and command line flags, in that order.
package config

import (
	"net/url"
	"os"
	"time"

	"github.com/agentuity/go-guildcache/member"
	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GUILDCACHE_"

type Config struct {
	// Token is the bot token used to open the platform session.
	Token     string          `yaml:"token" env:"TOKEN"`
	LogLevel  string          `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string          `yaml:"log_format" env:"LOG_FORMAT"`
	Cache     CacheConfig     `yaml:"cache" envPrefix:"CACHE_"`
	Persist   PersistConfig   `yaml:"persist" envPrefix:"PERSIST_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"OTLP_"`
	Serve     ServeConfig     `yaml:"serve" envPrefix:"SERVE_"`
}

type CacheConfig struct {
	TTL                 Duration `yaml:"ttl" env:"TTL"`
	ChunkSize           int      `yaml:"chunk_size" env:"CHUNK_SIZE"`
	FetchTimeout        Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	LargeGuildTimeout   Duration `yaml:"large_guild_timeout" env:"LARGE_GUILD_TIMEOUT"`
	LargeGuildMode      bool     `yaml:"large_guild_mode" env:"LARGE_GUILD_MODE"`
	LargeGuildThreshold int      `yaml:"large_guild_threshold" env:"LARGE_GUILD_THRESHOLD"`
	SharedRoleFetches   bool     `yaml:"shared_role_fetches" env:"SHARED_ROLE_FETCHES"`
	RoleConcurrency     int      `yaml:"role_concurrency" env:"ROLE_CONCURRENCY"`
}

// PersistConfig selects the snapshot stores. Both may be set.
type PersistConfig struct {
	RedisURL    string   `yaml:"redis_url" env:"REDIS_URL"`
	RedisPrefix string   `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	SQLitePath  string   `yaml:"sqlite_path" env:"SQLITE_PATH"`
	Retention   Duration `yaml:"retention" env:"RETENTION"`
}

func (p PersistConfig) Enabled() bool {
	return p.RedisURL != "" || p.SQLitePath != ""
}

type TelemetryConfig struct {
	URL         string `yaml:"url" env:"URL"`
	Token       string `yaml:"token" env:"TOKEN"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

func (t TelemetryConfig) Enabled() bool {
	return t.URL != ""
}

type ServeConfig struct {
	Addr            string   `yaml:"addr" env:"ADDR"`
	RefreshInterval Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`
}

// Default returns the built-in configuration.
func Default() Config {
	mc := member.DefaultConfig()
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		Cache: CacheConfig{
			TTL:                 Duration(mc.TTL),
			ChunkSize:           mc.ChunkSize,
			FetchTimeout:        Duration(mc.FetchTimeout),
			LargeGuildTimeout:   Duration(mc.LargeGuildTimeout),
			LargeGuildMode:      mc.LargeGuildMode,
			LargeGuildThreshold: mc.LargeGuildThreshold,
			SharedRoleFetches:   mc.SharedRoleFetches,
			RoleConcurrency:     mc.RoleConcurrency,
		},
		Persist: PersistConfig{
			RedisPrefix: "guildcache",
			Retention:   Duration(7 * 24 * time.Hour),
		},
		Telemetry: TelemetryConfig{ServiceName: "guildcache"},
		Serve: ServeConfig{
			Addr:            ":9464",
			RefreshInterval: Duration(mc.TTL),
		},
	}
}

// Load reads path (skipped when empty) over the defaults and then applies
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, errors.Wrap(err, "parsing environment")
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, errors.Newf(format, args...))
		}
	}
	check(c.Cache.TTL > 0, "cache.ttl must be positive")
	check(c.Cache.ChunkSize > 0 && c.Cache.ChunkSize <= 1000, "cache.chunk_size must be between 1 and 1000, got %d", c.Cache.ChunkSize)
	check(c.Cache.FetchTimeout > 0, "cache.fetch_timeout must be positive")
	check(c.Cache.LargeGuildTimeout > 0, "cache.large_guild_timeout must be positive")
	check(c.Cache.LargeGuildThreshold > 0, "cache.large_guild_threshold must be positive")
	check(c.Cache.RoleConcurrency > 0, "cache.role_concurrency must be positive")
	check(c.LogFormat == "console" || c.LogFormat == "json", "log_format must be console or json, got %q", c.LogFormat)
	if c.Persist.RedisURL != "" {
		u, perr := url.Parse(c.Persist.RedisURL)
		check(perr == nil && (u.Scheme == "redis" || u.Scheme == "rediss"), "persist.redis_url must be a redis:// url")
	}
	if c.Persist.Enabled() {
		check(c.Persist.Retention > 0, "persist.retention must be positive")
	}
	check(c.Serve.RefreshInterval >= 0, "serve.refresh_interval must not be negative")
	return err
}

// Member converts the cache section into a member.Config.
func (c Config) Member() member.Config {
	return member.Config{
		TTL:                 c.Cache.TTL.D(),
		ChunkSize:           c.Cache.ChunkSize,
		FetchTimeout:        c.Cache.FetchTimeout.D(),
		LargeGuildTimeout:   c.Cache.LargeGuildTimeout.D(),
		LargeGuildMode:      c.Cache.LargeGuildMode,
		LargeGuildThreshold: c.Cache.LargeGuildThreshold,
		SharedRoleFetches:   c.Cache.SharedRoleFetches,
		RoleConcurrency:     c.Cache.RoleConcurrency,
	}
}
