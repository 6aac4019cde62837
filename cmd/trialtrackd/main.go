// Command trialtrackd runs the trial tracking webhook service: it receives
// subscription lifecycle events, maintains per-user status records and
// per-cohort counters, and serves cohort reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tangentapps/trialtrack/pkg/api"
	"github.com/tangentapps/trialtrack/pkg/backfill"
	"github.com/tangentapps/trialtrack/pkg/trialtrack"
	zlog "github.com/tangentapps/trialtrack/pkg/trialtrack/logger/zerolog"
	prommetrics "github.com/tangentapps/trialtrack/pkg/trialtrack/metrics/prometheus"
	"github.com/tangentapps/trialtrack/pkg/webhook"
	firestorestorage "github.com/tangentapps/trialtrack/storage/firestore"
	"github.com/tangentapps/trialtrack/storage/memory"
	redisstorage "github.com/tangentapps/trialtrack/storage/redis"
)

type config struct {
	Addr             string        `env:"TRIALTRACK_ADDR" envDefault:":8080"`
	AppsConfigPath   string        `env:"TRIALTRACK_APPS_CONFIG" envDefault:"apps.yaml"`
	WebhookSecret    string        `env:"TRIALTRACK_WEBHOOK_SECRET"`
	ImportSecret     string        `env:"TRIALTRACK_IMPORT_SECRET"`
	Storage          string        `env:"TRIALTRACK_STORAGE" envDefault:"memory"`
	FirestoreProject string        `env:"TRIALTRACK_FIRESTORE_PROJECT"`
	RedisAddr        string        `env:"TRIALTRACK_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string        `env:"TRIALTRACK_REDIS_PASSWORD"`
	RedisDB          int           `env:"TRIALTRACK_REDIS_DB" envDefault:"0"`
	LogLevel         string        `env:"TRIALTRACK_LOG_LEVEL" envDefault:"info"`
	MetricsNamespace string        `env:"TRIALTRACK_METRICS_NAMESPACE" envDefault:"trialtrack"`
	RateLimit        int           `env:"TRIALTRACK_RATE_LIMIT" envDefault:"100"`
	ShutdownTimeout  time.Duration `env:"TRIALTRACK_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type appsFile struct {
	Apps []trialtrack.App `yaml:"apps"`
}

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse environment: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apps, err := loadApps(cfg.AppsConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load app config: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(registry, cfg.MetricsNamespace)
	trackLogger := zlog.NewLogger(logger)

	storage, cleanup, err := newStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up storage: %w", err)
	}
	defer cleanup()

	manager, err := trialtrack.NewManager(storage, apps, trialtrack.Config{
		Logger:  trackLogger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	webhookHandler, err := webhook.NewHandler(webhook.Config{
		Manager:   manager,
		Secret:    cfg.WebhookSecret,
		RateLimit: cfg.RateLimit,
		Logger:    trackLogger,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create webhook handler: %w", err)
	}

	importHandler, err := backfill.NewHandler(backfill.Config{
		Manager: manager,
		Secret:  cfg.ImportSecret,
		Logger:  trackLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to create import handler: %w", err)
	}

	reportHandler, err := api.NewHandler(api.Config{
		Manager:    manager,
		GetAppSlug: api.FromURLParam("app"),
		GetUserID:  api.FromURLParam("userID"),
		Logger:     trackLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to create report handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodPost, "/v1/webhook", webhookHandler.Handler())
	r.Method(http.MethodPost, "/v1/webhook/{app}", webhookHandler.Handler())
	r.Method(http.MethodPost, "/v1/import", importHandler)
	r.Get("/v1/apps/{app}/cohorts", reportHandler.GetCohorts)
	r.Get("/v1/apps/{app}/users/{userID}", reportHandler.GetUser)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("storage", cfg.Storage).
			Int("apps", len(apps.Apps())).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func loadApps(path string) (*trialtrack.AppSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file appsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return trialtrack.NewAppSet(file.Apps)
}

// newStorage builds the configured storage backend and returns a cleanup
// function that releases its resources.
func newStorage(ctx context.Context, cfg config, logger zerolog.Logger) (trialtrack.Storage, func(), error) {
	switch cfg.Storage {
	case "memory":
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil

	case "firestore":
		if cfg.FirestoreProject == "" {
			return nil, nil, fmt.Errorf("TRIALTRACK_FIRESTORE_PROJECT is required for firestore storage")
		}
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		storage, err := firestorestorage.New(client, firestorestorage.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return storage, func() { _ = client.Close() }, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		storage, err := redisstorage.New(client, redisstorage.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return storage, func() { _ = client.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
}
