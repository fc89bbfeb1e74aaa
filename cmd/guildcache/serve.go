package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/agentuity/go-guildcache/config"
	"github.com/agentuity/go-guildcache/logger"
	"github.com/agentuity/go-guildcache/member"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Warm the cache, keep it refreshed and serve stats and metrics",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, cmd *cobra.Command, rt *runtime, _ []string) error {
			addr := rt.cfg.Serve.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}
			interval := rt.cfg.Serve.RefreshInterval.D()
			if cmd.Flags().Changed("refresh-interval") {
				v, _ := cmd.Flags().GetString("refresh-interval")
				d, err := config.ParseDuration(v)
				if err != nil {
					return errors.Wrap(err, "--refresh-interval")
				}
				interval = d
			}
			return serve(ctx, rt, addr, interval)
		}),
	}
	cmd.Flags().String("addr", "", "listen address (env "+config.EnvPrefix+"SERVE_ADDR)")
	cmd.Flags().String("refresh-interval", "", "period of background refreshes, 0 disables")
	return cmd
}

func serve(ctx context.Context, rt *runtime, addr string, interval time.Duration) error {
	if err := rt.service.WarmCache(ctx); err != nil {
		rt.logger.Error("initial warm failed: %v", err)
	}
	if interval > 0 {
		stop := startRefresh(ctx, clock.New(), interval, rt.service, rt.platform, rt.logger)
		defer stop()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(rt.service, rt.registry, rt.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		rt.logger.Info("serving stats and metrics on %s", addr)
		errs <- srv.ListenAndServe()
	}()
	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}
	rt.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// startRefresh runs refreshLoop in the background. The returned func stops
// the loop and waits for it, so no refresh is scheduled after it returns.
func startRefresh(ctx context.Context, clk clock.Clock, interval time.Duration, svc *member.Service, platform member.Platform, log logger.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		refreshLoop(ctx, clk, interval, svc, platform, log)
	}()
	return func() {
		cancel()
		<-done
	}
}

// refreshLoop re-warms every guild on each tick until ctx ends. Large guilds
// refresh in the background like during the initial warm.
func refreshLoop(ctx context.Context, clk clock.Clock, interval time.Duration, svc *member.Service, platform member.Platform, log logger.Logger) {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		guilds, err := platform.Guilds(ctx)
		if err != nil {
			log.Warn("listing guilds for refresh failed: %v", err)
			continue
		}
		for _, g := range guilds {
			svc.RefreshCache(ctx, g)
		}
		log.Debug("scheduled refresh of %d guilds", len(guilds))
	}
}

func newHandler(svc *member.Service, reg *prometheus.Registry, log logger.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := writeJSON(w, svc.Stats()); err != nil {
			log.Warn("writing stats response: %v", err)
		}
	})
	mux.HandleFunc("POST /cache/clear", func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		for _, v := range r.URL.Query()["guild"] {
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		}
		cleared := svc.ClearCache(r.Context(), ids...)
		w.Header().Set("Content-Type", "application/json")
		if err := writeJSON(w, map[string]int{"cleared": cleared}); err != nil {
			log.Warn("writing clear response: %v", err)
		}
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}
