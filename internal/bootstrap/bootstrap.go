// Package bootstrap builds the infrastructure clients both services start from.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cuongbtq/videogen/internal/config"
	"github.com/cuongbtq/videogen/internal/storage"
	"github.com/cuongbtq/videogen/shared/logger"
	"github.com/cuongbtq/videogen/shared/postgresql"
	"github.com/cuongbtq/videogen/shared/rabbitmq"
)

// Store is an opened Job Store with its health check and cleanup
type Store struct {
	storage.JobStore
	HealthCheck func(ctx context.Context) error
	Close       func() error
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// OpenStore opens the Job Store the database driver selects. With migrate set,
// the PostgreSQL schema is brought up to date first.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig, migrate bool, log *slog.Logger) (*Store, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("Using the in-memory job store, state is lost on exit and not shared between processes")
		return &Store{
			JobStore:    storage.NewMemoryStore(),
			HealthCheck: func(context.Context) error { return nil },
			Close:       func() error { return nil },
		}, nil
	}

	client, err := postgresql.NewClient(ctx, PostgresConfig(cfg), log)
	if err != nil {
		return nil, err
	}

	if migrate {
		log.Info("Running database migrations")
		if err := storage.Migrate(client.GetDB().DB); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &Store{
		JobStore:    storage.NewPostgresStore(client.GetDB(), log),
		HealthCheck: client.HealthCheck,
		Close:       client.Close,
	}, nil
}

// PostgresConfig maps the database section onto the client config
func PostgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
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
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), log)
}

// RabbitMQConfig maps the rabbitmq section onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
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
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}
}

// ActiveJobsGauge registers videogen_active_jobs, read from the store on every scrape
func ActiveJobsGauge(store storage.JobStore, log *slog.Logger) error {
	meter := otel.Meter("github.com/cuongbtq/videogen")
	_, err := meter.Int64ObservableGauge("videogen_active_jobs",
		metric.WithDescription("Jobs not yet in a terminal status"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			n, err := store.CountActive(ctx)
			if err != nil {
				// a failed count must not fail the scrape
				log.Warn("Failed to count active jobs", slog.String("error", err.Error()))
				return nil
			}
			obs.Observe(int64(n))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register active jobs gauge: %w", err)
	}
	return nil
}

// StartMetricsServer serves handler on /metrics. Port 0 disables it and
// returns a nil server.
func StartMetricsServer(port int, handler http.Handler, log *slog.Logger) *http.Server {
	if port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Starting metrics server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	return srv
}
