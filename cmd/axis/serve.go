package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/axisgate/axis/internal/cache"
	"github.com/axisgate/axis/internal/config"
	"github.com/axisgate/axis/internal/gateway"
	"github.com/axisgate/axis/internal/logging"
	"github.com/axisgate/axis/internal/manifest"
	"github.com/axisgate/axis/internal/metrics"
	"github.com/axisgate/axis/internal/observability"
	"github.com/axisgate/axis/internal/ratelimit"
	"github.com/axisgate/axis/internal/rbac"
	"github.com/axisgate/axis/internal/routes"
	"github.com/axisgate/axis/internal/server"
	"github.com/axisgate/axis/internal/store"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr     string
		logLevel     string
		manifestPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if manifestPath != "" {
				cfg.Gateway.ManifestPath = manifestPath
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Bootstrap manifest file")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logging.Init(cfg.Log.Format, cfg.Log.Level)
	if cfg.Log.AccessPath != "" {
		if err := logging.Access().SetOutput(cfg.Log.AccessPath); err != nil {
			return err
		}
	}
	defer logging.Access().Close()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	}); err != nil {
		return err
	}
	defer observability.Shutdown(context.Background())

	registry := routes.NewRegistry()
	engine := rbac.New(cfg.Gateway.SessionTTL)
	defer engine.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	// Rate limiter: Redis-backed with local fallback when Redis is
	// configured, purely local otherwise.
	local := ratelimit.NewLocalBackend(0)
	var limiter ratelimit.Backend = local
	if redisClient != nil {
		limiter = ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(redisClient), local)
	}
	defer limiter.Close()

	// Response cache: tiered over Redis when configured.
	var respCache cache.Cache = cache.NewInMemoryCache(0)
	if redisClient != nil {
		respCache = cache.NewTieredCache(respCache, cache.NewRedisCache(redisClient, ""), cfg.Cache.LocalTTL)
	}
	defer respCache.Close()

	// State: Postgres when a DSN is set, manifest file on top.
	if cfg.Postgres.DSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Load(ctx, registry, engine); err != nil {
			return err
		}
	}
	if cfg.Gateway.ManifestPath != "" {
		m, err := manifest.Load(cfg.Gateway.ManifestPath)
		if err != nil {
			return err
		}
		if err := m.Apply(registry, engine); err != nil {
			return err
		}
		logging.Op().Info("manifest applied", "path", cfg.Gateway.ManifestPath)
	}

	collector := metrics.NewCollector(cfg.Metrics.Retention)
	defer collector.Close()
	exporter := metrics.NewExporter(engine.SessionCount)

	gw := gateway.New(gateway.Config{
		Routes:         registry,
		Limiter:        limiter,
		Cache:          respCache,
		Authz:          engine,
		Collector:      collector,
		Exporter:       exporter,
		Forwarder:      gateway.NewHTTPForwarder(cfg.Gateway.ForwardTimeout),
		ForwardTimeout: cfg.Gateway.ForwardTimeout,
	})

	srv := server.New(server.Config{
		Addr:            cfg.Server.HTTPAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, gw, registry, engine, exporter)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Op().Info("shutting down", "signal", sig.String())
		return srv.Shutdown(context.Background())
	}
}
