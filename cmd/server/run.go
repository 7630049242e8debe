package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lloydcotten/common-mq/internal/config"
	appcron "github.com/lloydcotten/common-mq/internal/cron"
	"github.com/lloydcotten/common-mq/internal/db"
	"github.com/lloydcotten/common-mq/internal/metrics"
	"github.com/lloydcotten/common-mq/internal/queue"
	"github.com/lloydcotten/common-mq/internal/repository"
	"github.com/lloydcotten/common-mq/internal/server"
	"github.com/lloydcotten/common-mq/internal/service"
)

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sugar, err := config.NewLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = sugar.Sync() }()
	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := cfg.QueueOptions()
	if err != nil {
		return fmt.Errorf("invalid queue url: %w", err)
	}
	q, err := queue.New(opts,
		queue.WithMetrics(m),
		queue.WithLogger(sugar),
		queue.WithBufferSize(cfg.QueueBuffer),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			sugar.Warnw("queue close error", "error", err)
		}
	}()
	sugar.Infow("queue created", "provider", opts.Provider, "queue", opts.QueueName)

	// Optional journal if POSTGRES_URI is provided
	var journal service.Journal
	if cfg.PostgresURI != "" {
		database, err := db.Connect(ctx, cfg.PostgresURI, db.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() { _ = database.Close() }()

		repo := repository.NewRepository(database.DB, sugar)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to create journal schema: %w", err)
		}
		journal = repo
		sugar.Info("message journal ready")
	}

	svc := service.NewMessageService(q, journal, sugar, cfg.AutoAck)

	sched := appcron.NewScheduler(q, cfg.HealthSchedule, m, sugar)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	srv := server.New(cfg, svc, registry, sugar)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.WatchErrors(gctx)
	})
	if cfg.Consume {
		g.Go(func() error {
			return svc.Consume(gctx)
		})
	}

	err = g.Wait()
	sugar.Info("shutdown complete")
	return err
}
