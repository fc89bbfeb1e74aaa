package config

import (
	"io"
	"os"

	"github.com/agentuity/go-guildcache/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// AddFlags registers the persistent flags that override configuration values.
func AddFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "path to a YAML config file (env "+EnvPrefix+"CONFIG)")
	f.String("token", "", "bot token (env "+EnvPrefix+"TOKEN)")
	f.String("log-level", "", "log level: trace, debug, info, warn, error")
	f.String("log-format", "", "log format: console or json")
	f.String("ttl", "", "snapshot time-to-live, e.g. 1h or 3600000")
	f.Int("chunk-size", 0, "page size of member enumeration (max 1000)")
	f.String("fetch-timeout", "", "deadline of a standard fetch")
	f.String("large-guild-timeout", "", "deadline of a full fetch of a large guild")
	f.Bool("large-guild-mode", true, "fetch large guilds in the background while warming")
	f.Int("large-guild-threshold", 0, "member count above which a guild is large")
	f.Bool("shared-role-fetches", false, "answer role queries from the shared full fetch")
	f.String("redis-url", "", "persist snapshots to this redis:// url")
	f.String("sqlite-path", "", "persist snapshots to this SQLite file")
	f.String("otlp-url", "", "export logs and traces to this OTLP/HTTP collector")
	f.String("otlp-token", "", "bearer token for the OTLP collector")
}

// ApplyFlags overrides cfg with every flag set on the command line.
func (c *Config) ApplyFlags(cmd *cobra.Command) error {
	fs := cmd.Flags()
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	var err error
	dur := func(name string, dst *Duration) {
		if !fs.Changed(name) {
			return
		}
		v, _ := fs.GetString(name)
		d, perr := ParseDuration(v)
		if perr != nil {
			err = multierr.Append(err, errors.Wrapf(perr, "--%s", name))
			return
		}
		*dst = Duration(d)
	}
	num := func(name string, dst *int) {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	flag := func(name string, dst *bool) {
		if fs.Changed(name) {
			*dst, _ = fs.GetBool(name)
		}
	}

	str("token", &c.Token)
	str("log-level", &c.LogLevel)
	str("log-format", &c.LogFormat)
	dur("ttl", &c.Cache.TTL)
	num("chunk-size", &c.Cache.ChunkSize)
	dur("fetch-timeout", &c.Cache.FetchTimeout)
	dur("large-guild-timeout", &c.Cache.LargeGuildTimeout)
	flag("large-guild-mode", &c.Cache.LargeGuildMode)
	num("large-guild-threshold", &c.Cache.LargeGuildThreshold)
	flag("shared-role-fetches", &c.Cache.SharedRoleFetches)
	str("redis-url", &c.Persist.RedisURL)
	str("sqlite-path", &c.Persist.SQLitePath)
	str("otlp-url", &c.Telemetry.URL)
	str("otlp-token", &c.Telemetry.Token)
	return err
}

// FromCommand loads the file named by --config or GUILDCACHE_CONFIG, applies
// the environment and the command line, and validates the result.
func FromCommand(cmd *cobra.Command) (Config, error) {
	cfg, err := Load(FlagOrEnv(cmd, "config", EnvPrefix+"CONFIG", ""))
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyFlags(cmd); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// NewLogger returns the console or JSON logger selected by the configuration.
func (c Config) NewLogger(w io.Writer) logger.Logger {
	level := logger.ParseLevel(c.LogLevel, logger.LevelInfo)
	if c.LogFormat == "json" {
		return logger.NewJSONLogger(w, level)
	}
	return logger.NewConsoleLoggerWithWriter(w, level)
}
