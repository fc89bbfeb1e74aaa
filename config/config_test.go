package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/go-guildcache/member"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"3600000", time.Hour},
		{"60000", time.Minute},
		{"90s", 90 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"2d", 48 * time.Hour},
		{" 1w ", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseDuration("")
	assert.Error(t, err)
	_, err = ParseDuration("soon")
	assert.Error(t, err)
}

func TestDefaultMatchesMemberDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, member.DefaultConfig(), cfg.Member())
	assert.Equal(t, time.Hour, cfg.Cache.TTL.D())
	assert.True(t, cfg.Cache.LargeGuildMode)
	assert.False(t, cfg.Persist.Enabled())
	assert.False(t, cfg.Telemetry.Enabled())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guildcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
log_format: json
cache:
  ttl: 30m
  chunk_size: 500
  fetch_timeout: 45000
  large_guild_mode: false
persist:
  sqlite_path: /var/lib/guildcache.db
`)
	t.Setenv("GUILDCACHE_CACHE_CHUNK_SIZE", "250")
	t.Setenv("GUILDCACHE_CACHE_SHARED_ROLE_FETCHES", "true")
	t.Setenv("GUILDCACHE_PERSIST_RETENTION", "2d")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL.D())
	assert.Equal(t, 250, cfg.Cache.ChunkSize)
	assert.Equal(t, 45*time.Second, cfg.Cache.FetchTimeout.D())
	assert.False(t, cfg.Cache.LargeGuildMode)
	assert.True(t, cfg.Cache.SharedRoleFetches)
	assert.Equal(t, 120*time.Second, cfg.Cache.LargeGuildTimeout.D(), "untouched values keep defaults")
	assert.Equal(t, 48*time.Hour, cfg.Persist.Retention.D())
	assert.True(t, cfg.Persist.Enabled())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "cache:\n  ttl: whenever\n"))
	assert.ErrorContains(t, err, "whenever")

	t.Setenv("GUILDCACHE_CACHE_CHUNK_SIZE", "lots")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Cache.ChunkSize = 5000
	cfg.Cache.TTL = 0
	cfg.LogFormat = "xml"
	cfg.Persist.RedisURL = "http://localhost"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"chunk_size", "cache.ttl", "log_format", "redis_url"} {
		assert.ErrorContains(t, err, want)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	AddFlags(cmd)
	return cmd
}

func TestApplyFlags(t *testing.T) {
	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{
		"--ttl", "2h",
		"--chunk-size", "100",
		"--large-guild-mode=false",
		"--shared-role-fetches",
		"--redis-url", "redis://localhost:6379/0",
	}))

	cfg := Default()
	require.NoError(t, cfg.ApplyFlags(cmd))
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL.D())
	assert.Equal(t, 100, cfg.Cache.ChunkSize)
	assert.False(t, cfg.Cache.LargeGuildMode)
	assert.True(t, cfg.Cache.SharedRoleFetches)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Persist.RedisURL)
	assert.Equal(t, member.DefaultFetchTimeout, cfg.Cache.FetchTimeout.D())
}

func TestApplyFlagsBadDuration(t *testing.T) {
	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--fetch-timeout", "later"}))
	cfg := Default()
	assert.ErrorContains(t, cfg.ApplyFlags(cmd), "--fetch-timeout")
}

func TestFromCommand(t *testing.T) {
	path := writeConfig(t, "cache:\n  ttl: 10m\n")
	t.Setenv("GUILDCACHE_CONFIG", path)
	t.Setenv("GUILDCACHE_CACHE_TTL", "20m")
	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--ttl", "30m"}))

	cfg, err := FromCommand(cmd)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL.D())
}

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("test-flag", "", "Test flag")

	require.NoError(t, cmd.Flags().Set("test-flag", "flag-value"))
	assert.Equal(t, "flag-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	require.NoError(t, cmd.Flags().Set("test-flag", ""))
	t.Setenv("TEST_ENV", "env-value")
	assert.Equal(t, "env-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	os.Unsetenv("TEST_ENV")
	assert.Equal(t, "default", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))
}
