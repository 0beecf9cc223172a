package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/garnizeh/placement/api"
	dbfs "github.com/garnizeh/placement/db"
	"github.com/garnizeh/placement/internal/config"
	"github.com/garnizeh/placement/internal/db"
	"github.com/garnizeh/placement/internal/jobs"
	sqlite "github.com/garnizeh/placement/internal/repository/sqlite"
	"github.com/garnizeh/placement/internal/workflow"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	api.SetLogger(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("starting placement server", slog.String("version", version), slog.String("build_time", buildTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database connection
	openCtx, cancel := context.WithTimeout(ctx, cfg.APITimeout)
	conn, err := db.New(openCtx, cfg.DatabasePath, logger)
	if err != nil {
		cancel()
		logger.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(openCtx, conn, dbfs.Migrations, dbfs.SeedFiles); err != nil {
			cancel()
			conn.Close()
			logger.Error("migration failed", slog.Any("err", err))
			os.Exit(1)
		}
	}
	cancel()

	repo := sqlite.New(conn, logger)

	opts := workflow.Options{
		Logger: logger,
		Numbering: workflow.NumberingOptions{
			TemplateKind:      cfg.Numbering.TemplateKind,
			Language:          cfg.Numbering.Language,
			MaxRetries:        cfg.Numbering.MaxRetries,
			DefaultPrefix:     cfg.Numbering.DefaultPrefix,
			DefaultDigitWidth: cfg.Numbering.DefaultDigitWidth,
			DefaultSuffix:     cfg.Numbering.DefaultSuffix,
		},
		MaxBatch:              cfg.Print.MaxBatch,
		PrintRequiresApproval: cfg.Print.RequireApproval,
	}

	var pool *jobs.WorkerPool
	if cfg.Notifications.Enabled {
		client := &http.Client{Timeout: cfg.APITimeout}
		handlers := map[string]jobs.Handler{
			jobs.TypeWorkflowEvent: jobs.WebhookHandler(client, cfg.Notifications.WebhookURL, logger),
		}
		pool = jobs.NewWorkerPool(repo, handlers, logger, cfg.Notifications.Workers)
		pool.SetPollInterval(cfg.Notifications.PollInterval)
		pool.Start(ctx)
		opts.Notifier = jobs.NewOutboxNotifier(repo, cfg.Notifications.MaxAttempts)
	}

	engine, err := workflow.New(repo.Repository(), opts)
	if err != nil {
		logger.Error("failed to build engine", slog.Any("err", err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.SetupRoutes(cfg, version, buildTime, engine),
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("err", err))
	}
	if pool != nil {
		pool.Stop()
	}
	if err := conn.Close(); err != nil {
		logger.Error("error closing db", slog.Any("err", err))
	}

	logger.Info("server exited")
}
