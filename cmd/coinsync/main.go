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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coinkiri/coinsync/internal/api"
	"github.com/coinkiri/coinsync/internal/auth"
	"github.com/coinkiri/coinsync/internal/cache"
	"github.com/coinkiri/coinsync/internal/config"
	"github.com/coinkiri/coinsync/internal/database"
	"github.com/coinkiri/coinsync/internal/market"
	"github.com/coinkiri/coinsync/internal/metrics"
	"github.com/coinkiri/coinsync/internal/model"
	"github.com/coinkiri/coinsync/internal/recorder"
	"github.com/coinkiri/coinsync/internal/stream"
	"github.com/coinkiri/coinsync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/coinsync.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting coinsync",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.API.RestURL,
		"ws_url", cfg.API.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	met := metrics.New()

	// Durable token store
	store, err := auth.NewSQLiteStore(cfg.Auth.TokenPath)
	if err != nil {
		logger.Error("failed to open token store", "error", err, "path", cfg.Auth.TokenPath)
		os.Exit(1)
	}
	defer store.Close()

	mgr := auth.NewManager(
		cfg.API.AuthURL,
		store,
		auth.WithLogger(logger),
		auth.WithMetrics(met),
		auth.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
	)

	// A fresh deployment seeds the session from the environment; afterwards
	// the SQLite store carries the pair across restarts.
	if access, refresh := os.Getenv("COINSYNC_ACCESS_TOKEN"), os.Getenv("COINSYNC_REFRESH_TOKEN"); access != "" && refresh != "" {
		if err := mgr.Login(ctx, model.TokenPair{AccessToken: access, RefreshToken: refresh}); err != nil {
			logger.Error("failed to seed session from environment", "error", err)
			os.Exit(1)
		}
		logger.Info("session seeded from environment")
	}

	// REST client for the inventory snapshot
	apiClient := api.NewClient(
		cfg.API.RestURL,
		mgr,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
	)

	subscriber := stream.NewSubscriber(stream.SubscriberConfig{
		URL:          cfg.API.WSURL,
		PingInterval: cfg.Stream.PingInterval,
		PingTimeout:  cfg.Stream.PingTimeout,
		WriteTimeout: cfg.Stream.WriteTimeout,
		BufferSize:   cfg.Stream.BufferSize,
	}, mgr, logger)

	merger := market.NewMerger(logger, met)

	engineOpts := []market.EngineOption{market.WithMetrics(met)}

	// Optional tick recorder
	var pool *pgxpool.Pool
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Recorder.Database.Host,
			"port", cfg.Recorder.Database.Port,
			"database", cfg.Recorder.Database.Name,
		)

		pool, err = database.Connect(ctx, cfg.Recorder.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger, met)

		if err := rec.Start(ctx); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
		engineOpts = append(engineOpts, market.WithRecorder(rec))
	}

	// Optional quote mirror
	var mirror *cache.Mirror
	if cfg.Cache.Enabled {
		mirror = cache.New(cache.Config{
			Addr:       cfg.Cache.Addr,
			DB:         cfg.Cache.DB,
			TTL:        cfg.Cache.TTL,
			BufferSize: cfg.Cache.BufferSize,
		}, logger, met)

		if err := mirror.Start(ctx); err != nil {
			logger.Error("failed to start quote mirror", "error", err)
			os.Exit(1)
		}
		engineOpts = append(engineOpts, market.WithCache(mirror))
	}

	engine := market.NewEngine(
		market.EngineConfig{
			ReconnectBaseDelay: cfg.Stream.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Stream.ReconnectMaxDelay,
		},
		apiClient,
		market.NewStreamSource(subscriber),
		merger,
		logger,
		engineOpts...,
	)

	// Serve health and metrics while the initial snapshot loads
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHTTPHandler(cfg.Metrics.Path, pool, merger, engine),
	}

	go func() {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the engine (blocking snapshot fetch + seed)
	logger.Info("starting sync engine (initial snapshot)...")
	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start sync engine", "error", err)
		os.Exit(1)
	}

	logger.Info("coinsync running",
		"instance_id", cfg.Instance.ID,
		"instruments", merger.Latest().Len(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Warn("engine shutdown incomplete", "error", err)
	}
	if rec != nil {
		if err := rec.Stop(shutdownCtx); err != nil {
			logger.Warn("recorder shutdown incomplete", "error", err)
		}
	}
	if mirror != nil {
		if err := mirror.Stop(shutdownCtx); err != nil {
			logger.Warn("quote mirror shutdown incomplete", "error", err)
		}
	}
	httpServer.Shutdown(shutdownCtx)

	logger.Info("coinsync stopped")
}

// createHTTPHandler serves health checks, debug state, and metrics.
func createHTTPHandler(metricsPath string, pool *pgxpool.Pool, merger *market.Merger, engine *market.Engine) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		// Check market book
		book := merger.Latest()
		if book == nil {
			health.Status = "degraded"
			health.Components["book"] = "unseeded"
		} else {
			health.Components["book"] = map[string]interface{}{
				"instruments": book.Len(),
			}
		}

		// Check stream loop
		if err := engine.Err(); err != nil {
			health.Status = "unhealthy"
			health.Components["stream"] = map[string]string{
				"status": "stopped",
				"error":  err.Error(),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/quotes", func(w http.ResponseWriter, r *http.Request) {
		book := merger.Latest()
		if book == nil {
			http.Error(w, "book not seeded", http.StatusServiceUnavailable)
			return
		}

		quotes := book.Quotes()

		// Limit to first 100 for debugging
		limit := 100
		if len(quotes) > limit {
			quotes = quotes[:limit]
		}

		type quoteView struct {
			Code       string  `json:"code"`
			Name       string  `json:"name"`
			TradePrice float64 `json:"tradePrice,omitempty"`
		}
		views := make([]quoteView, 0, len(quotes))
		for _, q := range quotes {
			v := quoteView{Code: q.Instrument.Code, Name: q.Instrument.Name}
			if q.HasPrice() {
				v.TradePrice = q.Tick.TradePrice
			}
			views = append(views, v)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":   book.Len(),
			"showing": len(views),
			"quotes":  views,
		})
	})

	return mux
}
