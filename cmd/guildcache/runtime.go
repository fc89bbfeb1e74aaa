package main

import (
	"context"
	"os"

	"github.com/agentuity/go-guildcache/config"
	"github.com/agentuity/go-guildcache/discord"
	"github.com/agentuity/go-guildcache/logger"
	"github.com/agentuity/go-guildcache/member"
	"github.com/agentuity/go-guildcache/persist"
	"github.com/agentuity/go-guildcache/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// runtime is everything a command needs, built from the configuration.
type runtime struct {
	cfg       config.Config
	logger    logger.Logger
	platform  member.Platform
	service   *member.Service
	registry  *prometheus.Registry
	telemetry *telemetry.Telemetry
	closers   []func() error
}

func newRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("a bot token is required (--token or " + config.EnvPrefix + "TOKEN)")
	}
	console := cfg.NewLogger(os.Stderr)
	rt := &runtime{cfg: cfg, registry: prometheus.NewRegistry()}

	rt.telemetry = telemetry.Disabled(console)
	if cfg.Telemetry.Enabled() {
		t, err := telemetry.New(ctx, cfg.Telemetry.URL, cfg.Telemetry.Token, cfg.Telemetry.ServiceName, console)
		if err != nil {
			return nil, errors.Wrapf(err, "starting telemetry for %s", telemetry.Describe(cfg.Telemetry.URL))
		}
		rt.telemetry = t
	}
	rt.logger = rt.telemetry.Logger

	session, err := discord.Open(ctx, cfg.Token, rt.logger)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, session.Close)
	rt.platform = discord.NewClient(session, discord.WithLogger(rt.logger))

	opts := []member.Option{
		member.WithConfig(cfg.Member()),
		member.WithLogger(rt.logger),
		member.WithTracerProvider(rt.telemetry.TracerProvider),
		member.WithMetrics(member.NewMetrics(rt.registry)),
	}
	store, closeStore, err := newPersister(ctx, cfg.Persist)
	if err != nil {
		rt.close()
		return nil, err
	}
	if store != nil {
		rt.closers = append(rt.closers, closeStore)
		opts = append(opts, member.WithPersister(store))
	}
	rt.service = member.New(rt.platform, opts...)
	rt.registry.MustRegister(rt.service.Collector())

	if _, err := rt.service.Restore(ctx); err != nil {
		rt.logger.Warn("starting with an empty cache: %v", err)
	}
	return rt, nil
}

// newPersister opens the configured snapshot stores. It returns a nil store
// when persistence is off.
func newPersister(ctx context.Context, cfg config.PersistConfig) (persist.Store, func() error, error) {
	if !cfg.Enabled() {
		return nil, nil, nil
	}
	var (
		stores  []persist.Store
		closers []func() error
	)
	closeAll := func() error {
		var err error
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
		return err
	}
	if cfg.RedisURL != "" {
		ro, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parsing redis url")
		}
		client := redis.NewClient(ro)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "connecting to redis")
		}
		closers = append(closers, client.Close)
		stores = append(stores, persist.NewRedis(client, persist.WithPrefix(cfg.RedisPrefix), persist.WithRetention(cfg.Retention.D())))
	}
	if cfg.SQLitePath != "" {
		db, err := persist.NewSQLite(ctx, cfg.SQLitePath, persist.WithRetention(cfg.Retention.D()))
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		stores = append(stores, db)
	}
	if len(stores) == 1 {
		return stores[0], closeAll, nil
	}
	return persist.NewComposite(stores...), closeAll, nil
}

// close drains background fetches and releases every resource.
func (rt *runtime) close() {
	if rt.service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Cache.LargeGuildTimeout.D())
		if err := rt.service.Drain(ctx); err != nil {
			rt.logger.Warn("background fetches still running at shutdown: %v", err)
		}
		cancel()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && rt.logger != nil {
			rt.logger.Warn("error during shutdown: %v", err)
		}
	}
	if rt.telemetry != nil {
		rt.telemetry.Shutdown()
	}
}

// guild resolves id against the guilds the bot belongs to.
func (rt *runtime) guild(ctx context.Context, id string) (member.Guild, error) {
	guilds, err := rt.platform.Guilds(ctx)
	if err != nil {
		return member.Guild{}, err
	}
	for _, g := range guilds {
		if g.ID == id {
			return g, nil
		}
	}
	return member.Guild{}, errors.Newf("the bot is not a member of guild %s", id)
}
