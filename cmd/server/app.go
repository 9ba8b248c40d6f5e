package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/scry-jobs/internal/api"
	"github.com/phrazzld/scry-jobs/internal/config"
	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/phrazzld/scry-jobs/internal/generation"
	"github.com/phrazzld/scry-jobs/internal/notify"
	"github.com/phrazzld/scry-jobs/internal/platform/gemini"
	"github.com/phrazzld/scry-jobs/internal/platform/groq"
	"github.com/phrazzld/scry-jobs/internal/platform/kafka"
	"github.com/phrazzld/scry-jobs/internal/platform/memory"
	"github.com/phrazzld/scry-jobs/internal/platform/postgres"
	"github.com/phrazzld/scry-jobs/internal/platform/redis"
	"github.com/phrazzld/scry-jobs/internal/realtime"
	"github.com/phrazzld/scry-jobs/internal/service"
	"github.com/phrazzld/scry-jobs/internal/service/auth"
	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/phrazzld/scry-jobs/internal/task"
)

// memoryBusSize is the event buffer used when Kafka is disabled.
const memoryBusSize = 256

// application holds the wired components of one server process.
type application struct {
	config     *config.Config
	logger     *slog.Logger
	runner     *task.Runner
	subscriber *notify.Subscriber
	registry   *realtime.Registry
	handler    http.Handler

	closers []func() error
}

// newApplication builds every component from configuration. On error the
// resources opened so far are released.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	jobs, notifications, err := app.openStores(ctx)
	if err != nil {
		return nil, err
	}

	publisher, source, err := app.openEvents()
	if err != nil {
		return nil, err
	}

	completer, err := newCompleter(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	handlers := task.NewRegistry()
	task.RegisterAnalysisHandlers(handlers, completer)

	app.runner, err = task.NewRunner(jobs, handlers, publisher, task.RunnerConfig{
		WorkerCount:     cfg.Workers.Count,
		QueueSize:       cfg.Workers.QueueSize,
		RequeueInterval: cfg.Workers.RequeueInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create job runner: %w", err)
	}

	app.registry = realtime.NewRegistry(logger)
	app.subscriber, err = notify.NewSubscriber(source, notifications, app.registry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification subscriber: %w", err)
	}

	jobService, err := service.NewJobService(jobs, app.runner, publisher, logger)
	if err != nil {
		return nil, err
	}
	notificationService, err := service.NewNotificationService(notifications, logger)
	if err != nil {
		return nil, err
	}
	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	app.handler = api.NewRouter(api.RouterDeps{
		Jobs:          jobService,
		Notifications: notificationService,
		Registry:      app.registry,
		JWT:           jwtService,
		Server:        cfg.Server,
		Realtime:      cfg.Realtime,
		Logger:        logger,
	})
	return app, nil
}

// openStores selects the job and notification backends.
func (app *application) openStores(ctx context.Context) (store.JobStore, store.NotificationStore, error) {
	cfg := app.config
	var db *sql.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		app.closers = append(app.closers, db.Close)
		if cfg.Database.AutoMigrate {
			if err := migrateDatabase(ctx, db, "up", app.logger); err != nil {
				return nil, nil, err
			}
		}
	}

	var notifications store.NotificationStore = memory.NewNotificationStore()
	if db != nil {
		notifications = postgres.NewPostgresNotificationStore(db, app.logger)
	}

	switch cfg.Storage.Driver {
	case "postgres":
		return store.NewJobLifecycle(postgres.NewPostgresJobStore(db, app.logger)), notifications, nil
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.closers = append(app.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store.NewJobLifecycle(redis.NewJobStore(rdb, cfg.Redis.TTL, app.logger)), notifications, nil
	default:
		app.logger.Warn("using in-memory job store, jobs are lost on restart")
		return store.NewJobLifecycle(memory.NewJobStore()), notifications, nil
	}
}

// openEvents selects Kafka or the in-process bus for job events.
func (app *application) openEvents() (events.Publisher, events.Source, error) {
	cfg := app.config.Kafka
	if !cfg.Enabled {
		bus := events.NewMemoryBus(memoryBusSize, app.logger)
		app.closers = append(app.closers, bus.Close)
		return bus, bus, nil
	}

	publisher, err := kafka.NewPublisher(cfg.Brokers, cfg.Topic, app.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	app.closers = append(app.closers, publisher.Close)

	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID, app.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	app.closers = append(app.closers, consumer.Close)
	return publisher, consumer, nil
}

// newCompleter builds the provider transport wrapped in the rate-limited,
// retrying client.
func newCompleter(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*generation.Client, error) {
	var transport generation.Completer
	switch cfg.Provider {
	case "gemini":
		t, err := gemini.NewTransport(ctx, cfg.APIKey, cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		transport = t
	default:
		var opts []groq.Option
		if cfg.BaseURL != "" {
			opts = append(opts, groq.WithBaseURL(cfg.BaseURL))
		}
		t, err := groq.NewTransport(cfg.APIKey, cfg.Model, cfg.RequestTimeout, logger, opts...)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	return generation.NewClient(
		transport,
		generation.NewTokenBudget(cfg.TokenBudget, cfg.BudgetWindow),
		generation.NewRetrier(cfg.MaxAttempts, cfg.BackoffBase, cfg.BackoffMax, logger),
		generation.Defaults{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens},
		logger,
	)
}

// run starts the runner, the subscriber and the HTTP server and blocks
// until ctx is canceled or one of them fails.
func (app *application) run(ctx context.Context) error {
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}
	defer app.runner.Stop()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(app.config.Server.Port),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.subscriber.Run(gctx)
	})

	g.Go(func() error {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")
		app.registry.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), app.config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	app.logger.Info("server shutdown completed")
	return err
}

// cleanup releases resources in reverse order of acquisition.
func (app *application) cleanup() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn("failed to release resource", "error", err)
		}
	}
	app.closers = nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return postgres.Open(ctx, cfg.URL, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
}

func migrateDatabase(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	return postgres.Migrate(ctx, db, command, logger)
}
