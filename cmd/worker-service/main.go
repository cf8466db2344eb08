package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vocalis/internal/backend"
	"vocalis/internal/blobstore"
	"vocalis/internal/cleanup"
	"vocalis/internal/config"
	"vocalis/internal/dispatcher"
	"vocalis/internal/lifecycle"
	"vocalis/internal/store"
	"vocalis/internal/webhook"
	"vocalis/shared/logger"
	"vocalis/shared/postgresql"
	"vocalis/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	blobs, err := blobstore.New(context.Background(), cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	jobStore := store.NewJobStore(dbClient.DB(), appLogger.Logger)
	jobs := lifecycle.NewManager(jobStore, appLogger.Logger)

	executor := dispatcher.NewExecutor(
		blobs,
		backend.NewTranscriber(cfg.Backends.STT, appLogger.Logger),
		backend.NewDiarizer(cfg.Backends.Diarization, appLogger.Logger),
		jobs,
		appLogger.Logger,
	)

	disp := dispatcher.New(&dispatcher.Config{
		Logger:            appLogger.Logger,
		RabbitClient:      rabbitClient,
		Jobs:              jobs,
		Executor:          executor,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Webhook.Enabled {
		notifier := webhook.NewNotifier(jobs, webhook.Config{
			PollInterval: cfg.Webhook.PollInterval,
			Timeout:      cfg.Webhook.Timeout,
			BatchSize:    cfg.Webhook.BatchSize,
		}, appLogger.Logger)
		go notifier.Run(ctx)
	}

	if cfg.Cleanup.Enabled && cfg.Storage.TTL > 0 {
		reaper := cleanup.NewReaper(jobStore, blobs, cleanup.Config{
			TTL:       cfg.Storage.TTL,
			Interval:  cfg.Cleanup.Interval,
			BatchSize: cfg.Cleanup.BatchSize,
		}, appLogger.Logger)
		go reaper.Run(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := disp.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Dispatcher error",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		disp.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Dispatcher stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Dispatcher shutdown timeout exceeded, forcing exit")
	}

	dbClient.Close()
	rabbitClient.Close()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		QueueMaxPriority:   cfg.Queue.MaxPriority,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
