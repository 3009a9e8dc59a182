// Package main wires together the placement-portal monitor service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/api"
	"github.com/placementwatch/tnp-monitor/internal/clock/system"
	"github.com/placementwatch/tnp-monitor/internal/config"
	"github.com/placementwatch/tnp-monitor/internal/dedup"
	"github.com/placementwatch/tnp-monitor/internal/fetcher/portal"
	"github.com/placementwatch/tnp-monitor/internal/logging"
	"github.com/placementwatch/tnp-monitor/internal/metrics"
	"github.com/placementwatch/tnp-monitor/internal/monitor"
	pubsubnotify "github.com/placementwatch/tnp-monitor/internal/notify/pubsub"
	"github.com/placementwatch/tnp-monitor/internal/notify/telegram"
	"github.com/placementwatch/tnp-monitor/internal/runner"
	"github.com/placementwatch/tnp-monitor/internal/scheduler"
	"github.com/placementwatch/tnp-monitor/internal/session"
	"github.com/placementwatch/tnp-monitor/internal/snapshot"
	"github.com/placementwatch/tnp-monitor/internal/store/memory"
	"github.com/placementwatch/tnp-monitor/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	clock := system.New()

	sessions, err := session.NewProvider(session.Config{
		BaseURL:     cfg.Portal.BaseURL,
		LoginPath:   cfg.Portal.LoginPath,
		Username:    cfg.Portal.Username,
		Password:    cfg.Portal.Password,
		UserAgent:   cfg.Portal.UserAgent,
		NavTimeout:  time.Duration(cfg.Session.NavTimeoutSec) * time.Second,
		StepTimeout: time.Duration(cfg.Session.StepTimeoutSec) * time.Second,
	}, logger.Named("session"))
	if err != nil {
		logger.Fatal("session provider init failed", zap.Error(err))
	}

	fetcher, err := portal.New(portal.Config{
		BaseURL:     cfg.Portal.BaseURL,
		NoticesPath: cfg.Portal.NoticesPath,
		JobsPath:    cfg.Portal.JobsPath,
		UserAgent:   cfg.Portal.UserAgent,
		Timeout:     time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		Lookback:    time.Duration(cfg.Fetch.LookbackHours) * time.Hour,
		Timezone:    cfg.Portal.Timezone,
	}, clock, logger.Named("fetcher"))
	if err != nil {
		logger.Fatal("fetcher init failed", zap.Error(err))
	}

	store, err := newSeenStore(ctx, cfg)
	if err != nil {
		logger.Fatal("dedup store init failed", zap.Error(err))
	}
	defer store.Close()

	notifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("notifier init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := notifier.Close(); closeErr != nil {
			logger.Warn("notifier close failed", zap.Error(closeErr))
		}
	}()

	snapshots, err := newSnapshotStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("snapshot store init failed", zap.Error(err))
	}

	classifier := dedup.New(store, clock, logger.Named("dedup"))
	jobRunner := runner.New(
		runner.Config{
			CycleTimeout:   cfg.CycleTimeout(),
			SnapshotPrefix: cfg.Snapshot.Prefix,
		},
		sessions,
		fetcher,
		classifier,
		store,
		notifier,
		snapshots,
		clock,
		logger.Named("runner"),
	)

	sched := scheduler.New(scheduler.Config{
		Interval:   cfg.Interval(),
		RunOnStart: cfg.Monitor.RunOnStart,
	}, jobRunner, logger.Named("scheduler"))

	apiServer := api.NewServer(jobRunner, store, clock, cfg.Interval(), cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go sched.Start(ctx)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newSeenStore(ctx context.Context, cfg config.Config) (monitor.SeenStore, error) {
	switch cfg.Store.Provider {
	case "postgres":
		return postgres.NewSeenStore(ctx, postgres.Config{DSN: cfg.Store.DSN})
	default:
		return memory.NewSeenStore(), nil
	}
}

func newNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.Notifier, error) {
	switch cfg.Notify.Provider {
	case "telegram":
		return telegram.New(telegram.Config{
			BotToken:       cfg.Notify.Telegram.BotToken,
			ChatID:         cfg.Notify.Telegram.ChatID,
			Timeout:        time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
			MaxRetries:     cfg.Notify.MaxRetries,
			BackoffInitial: time.Duration(cfg.Notify.BackoffInitialMs) * time.Millisecond,
			BackoffMax:     time.Duration(cfg.Notify.BackoffMaxMs) * time.Millisecond,
		}, logger.Named("telegram"))
	case "pubsub":
		return pubsubnotify.New(ctx, pubsubnotify.Config{
			ProjectID: cfg.Notify.PubSub.ProjectID,
			TopicName: cfg.Notify.PubSub.TopicName,
		}, logger.Named("pubsub"))
	default:
		return monitor.NoopNotifier{}, nil
	}
}

func newSnapshotStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.SnapshotStore, error) {
	switch cfg.Snapshot.Provider {
	case "gcs":
		return snapshot.NewGCSStore(ctx, cfg.Snapshot.GCSBucket, logger.Named("snapshot"))
	case "local":
		return snapshot.NewLocalStore(cfg.Snapshot.BaseDir)
	default:
		return monitor.NoopSnapshotStore{}, nil
	}
}
