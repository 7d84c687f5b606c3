package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"task-service/internal/audit"
	"task-service/internal/config"
	"task-service/internal/presenter"
	"task-service/internal/publisher"
	"task-service/internal/repository"
	"task-service/internal/server"
	"task-service/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the audit pipeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	rootCmd.AddCommand(serveCmd)
}

func queueConfig(name string, cfg config.Audit) audit.QueueConfig {
	return audit.QueueConfig{
		Name:           name,
		Workers:        cfg.Workers,
		BufferSize:     cfg.QueueSize,
		DropIfFull:     cfg.DropIfFull,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		AttemptTimeout: cfg.AttemptTimeout,
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	if !skipMigrations {
		if err := repository.MigrateUp(db); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "postgres"),
	)
	metrics := audit.NewMetrics(registry)

	// Every consumer sits behind its own queue so a slow broker never holds
	// up audit persistence.
	bus := audit.NewBus()
	var queues []*audit.Queue
	var closers []func()

	auditService := service.NewAuditService(repository.NewPostgresAuditRepository(db))
	auditQueue := audit.NewQueue(queueConfig("audit", cfg.Audit), auditService, metrics)
	bus.Subscribe(auditQueue.Name(), auditQueue)
	queues = append(queues, auditQueue)

	if cfg.Kafka.BootstrapServers != "" {
		fwd, err := publisher.NewKafkaForwarder(cfg.Kafka.BootstrapServers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		q := audit.NewQueue(queueConfig("kafka", cfg.Audit), fwd, metrics)
		bus.Subscribe(q.Name(), q)
		queues = append(queues, q)
		closers = append(closers, fwd.Close)
	}

	if cfg.NATS.URL != "" {
		fwd, err := publisher.NewNATSForwarder(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		q := audit.NewQueue(queueConfig("nats", cfg.Audit), fwd, metrics)
		bus.Subscribe(q.Name(), q)
		queues = append(queues, q)
		closers = append(closers, func() {
			if err := fwd.Close(); err != nil {
				log.WithError(err).Warn("Failed to drain NATS connection")
			}
		})
	}

	if cfg.Redis.URL != "" {
		fwd, err := publisher.NewRedisStreamForwarder(cfg.Redis.URL, cfg.Redis.Stream, cfg.Redis.MaxLen)
		if err != nil {
			return err
		}
		q := audit.NewQueue(queueConfig("redis", cfg.Audit), fwd, metrics)
		bus.Subscribe(q.Name(), q)
		queues = append(queues, q)
		closers = append(closers, func() {
			if err := fwd.Close(); err != nil {
				log.WithError(err).Warn("Failed to close Redis client")
			}
		})
	}

	notifier := audit.NewNotifier(bus, audit.NotifierConfig{
		SuppressNoopUpdates: cfg.Audit.SuppressNoopUpdates,
	})

	userService := service.NewUserService(repository.NewPostgresUserRepository(db), notifier)
	taskService := service.NewTaskService(repository.NewPostgresTaskRepository(db), notifier)

	e := server.NewRouter(server.Deps{
		Users:     userService,
		Tasks:     taskService,
		AuditLogs: auditService,
		DB:        db,
		Presenter: presenter.New(cfg.Location()),
		Gatherer:  registry,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
	})

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.HTTP.Port).Info("Task service is starting with Echo")
		if err := e.Start(":" + cfg.HTTP.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("echo server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not shut down cleanly")
	}

	// No request can publish anymore; drain what was captured.
	for _, q := range queues {
		if err := q.Close(shutdownCtx); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"queue":   q.Name(),
				"pending": q.Pending(),
			}).Error("Change event queue did not drain before shutdown")
		}
	}
	for _, closeFn := range closers {
		closeFn()
	}

	log.Info("Task service stopped")
	return runErr
}
