package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"vocalis/internal/api/handler"
	"vocalis/internal/api/router"
	"vocalis/internal/auth"
	"vocalis/internal/backend"
	"vocalis/internal/blobstore"
	"vocalis/internal/config"
	"vocalis/internal/lifecycle"
	"vocalis/internal/ratelimit"
	"vocalis/internal/store"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
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
	credStore := store.NewCredentialStore(dbClient.DB())
	jobs := lifecycle.NewManager(jobStore, appLogger.Logger)
	authenticator := auth.NewAuthenticator(credStore, appLogger.Logger)

	var windowStore ratelimit.WindowStore
	if cfg.RateLimit.Store == "memory" {
		windowStore = ratelimit.NewMemoryWindowStore()
	} else {
		windowStore = ratelimit.NewPostgresWindowStore(dbClient.DB())
	}
	limiter := ratelimit.NewLimiter(windowStore, ratelimit.Config{
		Enabled:      cfg.RateLimit.Enabled,
		DefaultLimit: cfg.RateLimit.DefaultLimit,
		Burst:        cfg.RateLimit.Burst,
	}, appLogger.Logger)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	llm := backend.NewLLM(cfg.Backends.LLM, appLogger.Logger)
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := llm.HealthCheck(probeCtx); err != nil {
		appLogger.Warn("LLM backend unreachable at startup",
			slog.Any("error", err),
		)
	}
	probeCancel()

	h := handler.New(&handler.Dependencies{
		Logger:        appLogger.Logger,
		Jobs:          jobs,
		Queue:         rabbitClient,
		Blobs:         blobs,
		LLM:           llm,
		Models:        backend.NewRegistry(),
		DB:            dbClient,
		MQ:            rabbitClient,
		ServiceName:   cfg.App.Name,
		MaxAudioBytes: cfg.Limits.MaxAudioBytes,
	})

	r := router.SetupRouter(&router.Dependencies{
		Handler:       h,
		Authenticator: authenticator,
		Limiter:       limiter,
		Logger:        appLogger.Logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer func() {
		cancel()
		dbClient.Close()
		rabbitClient.Close()
	}()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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
