package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/helios-research/flow-data/internal/api"
	"github.com/helios-research/flow-data/internal/catalog"
	"github.com/helios-research/flow-data/internal/config"
	"github.com/helios-research/flow-data/internal/database"
	"github.com/helios-research/flow-data/internal/depth"
	"github.com/helios-research/flow-data/internal/ratelimit"
	"github.com/helios-research/flow-data/internal/scheduler"
	"github.com/helios-research/flow-data/internal/sink"
	"github.com/helios-research/flow-data/internal/stream"
	"github.com/helios-research/flow-data/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gatherer.yaml", "path to config file")
	flag.Parse()

	// Env vars referenced from the config file may live in a local .env.
	godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gatherer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"symbols", len(cfg.Symbols),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Archive database
	logger.Info("connecting to archive database",
		"host", cfg.Database.Archive.Host,
		"database", cfg.Database.Archive.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Archive)
	if err != nil {
		logger.Error("failed to connect to archive database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	archive := sink.NewPostgresArchive(pool, logger)
	if err := archive.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure archive schema", "error", err)
		os.Exit(1)
	}
	logger.Info("archive database ready")

	// Hot cache
	cache, err := sink.NewRedisCache(ctx, cfg.Redis, cfg.Cache, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()
	logger.Info("hot cache connected", "host", cfg.Redis.Host)

	writer := sink.NewWriter(archive, cache, logger)

	// REST scheduler
	cat := catalog.Default()
	if err := cat.Validate(); err != nil {
		logger.Error("invalid endpoint catalog", "error", err)
		os.Exit(1)
	}

	apiClient := api.NewClient(
		cfg.Vendor.RestURL,
		cfg.Vendor.APIToken,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Vendor.Timeout),
	)

	bucket := ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerMinute)

	sched := scheduler.New(scheduler.Config{
		Workers: cfg.Scheduler.Workers,
		Cadences: [catalog.NumTiers]time.Duration{
			cfg.Scheduler.TierCadences.T0,
			cfg.Scheduler.TierCadences.T1,
			cfg.Scheduler.TierCadences.T2,
			cfg.Scheduler.TierCadences.T3,
		},
		AcquireTimeout: cfg.Scheduler.AcquireTimeout,
		RetryDelay:     cfg.Scheduler.RetryDelay,
		RetryAfter:     cfg.Scheduler.RetryAfter,
	}, cat, cfg.Symbols, apiClient, bucket, writer, logger)

	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer stopComponent("scheduler", sched.Stop, logger)

	// Vendor stream
	streamMgr := stream.NewManager(stream.ManagerConfig{
		WSURL:              cfg.Vendor.WSURL,
		APIToken:           cfg.Vendor.APIToken,
		ReconnectBaseDelay: cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Stream.ReconnectMaxDelay,
		HealthyReset:       cfg.Stream.HealthyReset,
		StalenessWindow:    cfg.Stream.StalenessWindow,
		WriteTimeout:       cfg.Stream.WriteTimeout,
		BufferSize:         cfg.Stream.BufferSize,
	}, writer, logger)

	if err := streamMgr.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}
	defer stopComponent("stream", streamMgr.Stop, logger)

	for _, ch := range stream.ChannelsForSymbols(cfg.Symbols) {
		if err := streamMgr.Join(ch); err != nil {
			logger.Warn("initial channel join failed", "channel", ch, "error", err)
		}
	}

	// Brokerage depth rotation
	depthSession := depth.NewSession(depth.SessionConfig{
		WSURL:            cfg.Broker.WSURL,
		ClientID:         cfg.Broker.ClientID,
		Venue:            cfg.Broker.Venue,
		Rows:             10,
		SubscribeTimeout: cfg.Depth.SubscribeTimeout,
		WriteTimeout:     cfg.Stream.WriteTimeout,
		BufferSize:       cfg.Stream.BufferSize,
	}, writer, logger)

	if err := depthSession.Start(ctx); err != nil {
		logger.Error("failed to start depth session", "error", err)
		os.Exit(1)
	}
	defer stopComponent("depth session", depthSession.Stop, logger)

	depthCtrl := depth.NewController(depth.ControllerConfig{
		MaxConcurrent:   cfg.Depth.MaxConcurrent,
		Pinned:          cfg.Depth.Pinned,
		Dwell:           cfg.Depth.Dwell,
		TickInterval:    cfg.Depth.TickInterval,
		Cooldown:        cfg.Depth.Cooldown,
		StableThreshold: cfg.Depth.StableThreshold,
	}, cfg.Symbols, depthSession, logger)

	if err := depthCtrl.Start(ctx); err != nil {
		logger.Error("failed to start depth controller", "error", err)
		os.Exit(1)
	}
	defer stopComponent("depth controller", depthCtrl.Stop, logger)

	// Health endpoint
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: healthHandler(cfg, pool, streamMgr, depthCtrl, sched, bucket),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("gatherer running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path),
	)

	if err := g.Wait(); err != nil {
		logger.Error("health server error", "error", err)
	}

	logger.Info("shutting down...")
}

// stopComponent runs a component Stop with a bounded deadline.
func stopComponent(name string, stop func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("component stop failed", "component", name, "error", err)
	}
}

// healthHandler reports per-component status.
func healthHandler(cfg *config.GathererConfig, pool *pgxpool.Pool, streamMgr *stream.Manager, depthCtrl *depth.Controller, sched *scheduler.Scheduler, bucket *ratelimit.Bucket) http.Handler {
	mux := http.NewServeMux()

	path := cfg.Metrics.Path
	if path == "" {
		path = "/health"
	}

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Instance   string         `json:"instance"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Instance:   cfg.Instance.ID,
			Components: make(map[string]any),
		}

		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["archive"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["archive"] = "connected"
		}

		sh := streamMgr.Health()
		if sh.Connected {
			health.Components["stream"] = map[string]any{
				"status":          "connected",
				"channels":        len(streamMgr.Channels()),
				"connected_at":    sh.ConnectedAt,
				"last_message_at": sh.LastMessageAt,
				"reconnects":      sh.ReconnectCount,
			}
		} else {
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
			health.Components["stream"] = map[string]any{
				"status":     "disconnected",
				"reconnects": sh.ReconnectCount,
			}
		}

		st := depthCtrl.Status()
		health.Components["depth"] = map[string]any{
			"limit":    st.Limit,
			"active":   st.Active,
			"queued":   st.Queued,
			"cooldown": st.Cooldown,
		}

		depths := sched.QueueDepths()
		health.Components["scheduler"] = map[string]any{
			"queued": map[string]int{
				"t0": depths[0],
				"t1": depths[1],
				"t2": depths[2],
				"t3": depths[3],
			},
			"rate_tokens": bucket.Tokens(),
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
