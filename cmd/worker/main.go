package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/courtside-hq/courtside/internal/app"
	jobmetrics "github.com/courtside-hq/courtside/internal/jobs"
	"github.com/courtside-hq/courtside/internal/platform/db"
	"github.com/courtside-hq/courtside/internal/rbac"
	"github.com/courtside-hq/courtside/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	mailer, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := mailer.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	digestTask, err := jobs.NewAssignmentDigestTask(jobs.AssignmentDigestPayload{
		WindowHours: cfg.DigestWindowHours,
		NotifyEmail: cfg.DigestNotifyEmail,
	})
	if err != nil {
		logger.Error("build digest task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		SMTP: jobs.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			From: cfg.SMTPFrom,
		},
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeAssignmentDigest, Handler: jobs.AssignmentDigest(logger, rbacService, mailer, jobmetrics.NewMetrics(nil))},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 7 * * *", Task: digestTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
