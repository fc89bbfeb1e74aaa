package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-guildcache/config"
	"github.com/agentuity/go-guildcache/logger"
	"github.com/agentuity/go-guildcache/member"
	"github.com/agentuity/go-guildcache/persist"
	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	mu     sync.Mutex
	guilds []member.Guild
	fetchs map[string]int
}

func newFakePlatform(guilds ...member.Guild) *fakePlatform {
	return &fakePlatform{guilds: guilds, fetchs: make(map[string]int)}
}

func (p *fakePlatform) Guilds(ctx context.Context) ([]member.Guild, error) {
	return p.guilds, nil
}

func (p *fakePlatform) FetchMembers(ctx context.Context, guildID string, params member.FetchParams) ([]member.Member, error) {
	p.mu.Lock()
	p.fetchs[guildID]++
	p.mu.Unlock()
	return []member.Member{{ID: "1", Username: "one"}, {ID: "2", Username: "two", Roles: []string{"r"}}}, nil
}

func (p *fakePlatform) FetchMember(ctx context.Context, guildID, memberID string) (member.Member, error) {
	return member.Member{}, member.ErrNotFound
}

func (p *fakePlatform) FetchMembersByID(ctx context.Context, guildID string, memberIDs []string) ([]member.Member, error) {
	return nil, nil
}

func (p *fakePlatform) fetches(guildID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchs[guildID]
}

func newTestHandler(t *testing.T, p *fakePlatform) (http.Handler, *member.Service) {
	t.Helper()
	reg := prometheus.NewRegistry()
	log := logger.NewTestLogger()
	svc := member.New(p, member.WithLogger(log), member.WithMetrics(member.NewMetrics(reg)))
	reg.MustRegister(svc.Collector())
	return newHandler(svc, reg, log), svc
}

func TestHandlerStats(t *testing.T) {
	p := newFakePlatform(member.Guild{ID: "G1"})
	h, svc := newTestHandler(t, p)
	require.True(t, svc.GetAllMembers(context.Background(), member.Guild{ID: "G1"}).IsFresh())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats member.CacheStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalMembers)
	require.Len(t, stats.Guilds, 1)
	assert.Equal(t, "G1", stats.Guilds[0].GuildID)
	assert.True(t, stats.Guilds[0].Valid)
}

func TestHandlerClear(t *testing.T) {
	p := newFakePlatform()
	h, svc := newTestHandler(t, p)
	for _, id := range []string{"G1", "G2", "G3"} {
		require.True(t, svc.GetAllMembers(context.Background(), member.Guild{ID: id}).IsFresh())
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cache/clear?guild=G1,G2&guild=missing", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":2}`, rec.Body.String())
	assert.Equal(t, 1, svc.Store().Len())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cache/clear", nil))
	assert.JSONEq(t, `{"cleared":1}`, rec.Body.String())
	assert.Equal(t, 0, svc.Store().Len())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache/clear", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerMetrics(t *testing.T) {
	p := newFakePlatform()
	h, svc := newTestHandler(t, p)
	require.True(t, svc.GetAllMembers(context.Background(), member.Guild{ID: "G1"}).IsFresh())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `guildcache_guild_members{guild="G1"} 2`)
	assert.Contains(t, body, `guildcache_lookups_total{op="all",result="miss"} 1`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRefreshLoop(t *testing.T) {
	p := newFakePlatform(member.Guild{ID: "G1"}, member.Guild{ID: "G2"})
	svc := member.New(p, member.WithLogger(logger.NewTestLogger()))
	clk := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		refreshLoop(ctx, clk, time.Minute, svc, p, logger.NewTestLogger())
	}()

	assert.Eventually(t, func() bool {
		clk.Add(time.Minute)
		return p.fetches("G1") >= 1 && p.fetches("G2") >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop")
	}
	require.NoError(t, svc.Drain(context.Background()))
}

func TestStartRefreshStopWaits(t *testing.T) {
	p := newFakePlatform(member.Guild{ID: "G1"})
	svc := member.New(p, member.WithLogger(logger.NewTestLogger()))
	clk := clock.NewMock()
	stop := startRefresh(context.Background(), clk, time.Minute, svc, p, logger.NewTestLogger())

	assert.Eventually(t, func() bool {
		clk.Add(time.Minute)
		return p.fetches("G1") >= 1
	}, time.Second, 10*time.Millisecond)

	stop()
	require.NoError(t, svc.Drain(context.Background()))
	n := p.fetches("G1")
	clk.Add(time.Minute)
	require.NoError(t, svc.Drain(context.Background()))
	assert.Equal(t, n, p.fetches("G1"))
}

func TestNewPersister(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := newPersister(ctx, config.PersistConfig{})
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.Nil(t, closeFn)

	mr := miniredis.RunT(t)
	cfg := config.PersistConfig{
		RedisURL:    "redis://" + mr.Addr(),
		RedisPrefix: "test",
		Retention:   config.Duration(time.Hour),
	}
	store, closeFn, err = newPersister(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &persist.Redis{}, store)
	snap := member.NewSnapshot("G1", []member.Member{{ID: "1"}}, time.Now())
	require.NoError(t, store.SaveSnapshot(ctx, snap))
	assert.True(t, mr.Exists("test:guild:G1"))
	require.NoError(t, closeFn())

	cfg.SQLitePath = filepath.Join(t.TempDir(), "snapshots.db")
	store, closeFn, err = newPersister(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &persist.Composite{}, store)
	require.NoError(t, store.SaveSnapshot(ctx, snap))
	snaps, err := store.LoadSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "G1", snaps[0].GuildID())
	require.NoError(t, closeFn())
}

func TestNewPersisterRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, _, err := newPersister(context.Background(), config.PersistConfig{RedisURL: "redis://" + addr, Retention: config.Duration(time.Hour)})
	assert.ErrorContains(t, err, "connecting to redis")
}

func TestPrintMembers(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Bool("json", false, "")
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	members := []member.Member{
		{ID: "1", Username: "one", DisplayName: "One", JoinedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Roles: []string{"a", "b"}},
	}
	require.NoError(t, printMembers(cmd, members))
	assert.Contains(t, buf.String(), "2024-03-01")
	assert.Contains(t, buf.String(), "a,b")
	assert.Contains(t, buf.String(), "1 members")

	buf.Reset()
	require.NoError(t, cmd.Flags().Set("json", "true"))
	require.NoError(t, printMembers(cmd, members))
	var decoded []member.Member
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "One", decoded[0].DisplayName)

	buf.Reset()
	require.NoError(t, cmd.Flags().Set("json", "false"))
	require.NoError(t, printMembers(cmd, nil))
	assert.Equal(t, "no members\n", buf.String())
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"warm", "members", "roles", "member", "stats", "serve"}, names)
	for _, f := range []string{"token", "ttl", "redis-url", "sqlite-path", "otlp-url", "json"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(f), f)
	}
}

func TestMissingToken(t *testing.T) {
	t.Setenv(config.EnvPrefix+"TOKEN", "")
	root := newRootCommand()
	root.SetArgs([]string{"stats"})
	root.SetOut(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "a bot token is required")
}
