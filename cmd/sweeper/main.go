package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"triagedesk.app/triage/common/id"
	"triagedesk.app/triage/common/logger"
	"triagedesk.app/triage/common/otel"
	"triagedesk.app/triage/core/config"
	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/chat"
	"triagedesk.app/triage/internal/forge"
	"triagedesk.app/triage/internal/project"
	"triagedesk.app/triage/internal/queue"
	"triagedesk.app/triage/internal/search"
	"triagedesk.app/triage/internal/service"
	"triagedesk.app/triage/internal/store"
	"triagedesk.app/triage/internal/sweep"
	"triagedesk.app/triage/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeSweeper)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "triage sweeper starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queue.Group,
		"consumer_name", cfg.Queue.Consumer)

	// Different node ID than the server so snowflakes never collide
	if err := id.Init(id.NodeSweeper); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	projects, err := project.NewService(cfg.ProjectFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load project config", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.Stream)

	index, err := search.NewTypesense(search.Config{
		URL:        cfg.Search.URL,
		APIKey:     cfg.Search.APIKey,
		Collection: cfg.Search.Collection,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to search index", "error", err)
		os.Exit(1)
	}
	if err := index.EnsureCollection(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to ensure search collection", "error", err)
		os.Exit(1)
	}

	notifier := chat.NewClient(chat.ClientConfig{
		BaseURL: cfg.Chat.BaseURL,
		Token:   cfg.Chat.Token,
		Timeout: cfg.Chat.Timeout,
	})

	forgeClient, err := forge.NewGitLab(forge.Config{
		BaseURL: cfg.Forge.BaseURL,
		Token:   cfg.Forge.Token,
		Timeout: cfg.Forge.Timeout,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create forge client", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Pool())
	services := service.NewServices(service.Deps{
		DB:       database,
		Projects: projects,
		Index:    index,
		Notifier: notifier,
		Threads:  notifier,
	})

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Queue.Stream,
		Group:        cfg.Queue.Group,
		Consumer:     cfg.Queue.Consumer,
		DLQStream:    cfg.Queue.DLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RequeueDelay: cfg.Queue.RequeueDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	processor := worker.NewProcessor(services.Ingest, forgeClient)
	w := worker.New(consumer, processor, worker.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Queue.Stream,
		Group:     cfg.Queue.Group,
		Consumer:  cfg.Queue.Consumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	sweeper := sweep.NewSweeper(stores, services.Lifecycle, projects, notifier, sweep.Config{
		AutoReactivate: cfg.Sweep.AutoReactivate,
		Lookback:       cfg.Sweep.UnsnoozeLookback,
	})

	scheduler, err := sweep.NewScheduler(redisClient, cfg.Sweep.LeaseTTL,
		sweep.Job{Name: "unsnooze", Cron: cfg.Sweep.DailyCron, Run: sweeper.Unsnooze},
		sweep.Job{Name: "follow_up", Cron: cfg.Sweep.DailyCron, Run: sweeper.FollowUps},
		sweep.Job{Name: "auto_unassign", Cron: cfg.Sweep.DailyCron, Run: sweeper.AutoUnassign},
		sweep.Job{Name: "digest", Cron: cfg.Sweep.DigestCron, Run: sweeper.Digest},
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create scheduler", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()
	scheduler.Start(ctx)

	slog.InfoContext(ctx, "sweeper initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down sweeper...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	scheduler.Stop()
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "sweeper shutdown complete")
}
