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

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/videogen/internal/artifact"
	"github.com/cuongbtq/videogen/internal/bootstrap"
	"github.com/cuongbtq/videogen/internal/chat"
	"github.com/cuongbtq/videogen/internal/chat/telegram"
	"github.com/cuongbtq/videogen/internal/config"
	"github.com/cuongbtq/videogen/internal/correlation"
	"github.com/cuongbtq/videogen/internal/observability"
	"github.com/cuongbtq/videogen/internal/worker"
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

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, "videogen-worker-service", cfg.Observability.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			appLogger.Warn("Failed to shut down tracer", slog.Any("error", err))
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			appLogger.Warn("Failed to shut down metrics", slog.Any("error", err))
		}
	}()
	metricsSrv := bootstrap.StartMetricsServer(cfg.Observability.MetricsPort, metricsHandler, appLogger.Logger)
	if metricsSrv != nil {
		defer metricsSrv.Close()
	}

	store, err := bootstrap.OpenStore(ctx, &cfg.Database, false, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	defer store.Close()

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	uploader, err := initUploader(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize uploader: %w", err)
	}

	tg := telegram.New(telegram.Config{
		AppID:           cfg.Telegram.AppID,
		AppHash:         cfg.Telegram.AppHash,
		SessionPath:     cfg.Telegram.SessionPath,
		DownloadThreads: cfg.Telegram.DownloadThreads,
	}, appLogger.Logger)

	// The session is connected only inside Run, so everything that talks to
	// the agent is built and started there.
	errChan := make(chan error, 1)
	go func() {
		errChan <- tg.Run(ctx, func(ctx context.Context) error {
			engine := correlation.New(tg, store, correlation.Config{
				HistoryLimit:  cfg.Correlation.HistoryLimit,
				PollInterval:  cfg.Correlation.PollInterval,
				RecencyWindow: cfg.Correlation.RecencyWindow,
				MaxWait:       cfg.Correlation.MaxWait,
			}, appLogger.Logger)

			controller := worker.NewController(store, tg, engine, uploader, sendLimiter(cfg.Limits.SendRatePerMinute),
				worker.ControllerConfig{
					Peer:            chat.Peer(cfg.Telegram.AgentUsername),
					DownloadDir:     cfg.Artifacts.DownloadDir,
					DownloadTimeout: cfg.Worker.DownloadTimeout,
					MaxWait:         cfg.Correlation.MaxWait,
				}, appLogger.Logger)

			return worker.NewWorker(&worker.Config{
				Logger:      appLogger.Logger,
				Consumer:    rabbitClient,
				Controller:  controller,
				Concurrency: cfg.Worker.Concurrency,
				WorkerID:    workerID(cfg),
			}).Start(ctx)
		})
	}()

	appLogger.Info("Worker service started",
		slog.String("agent", cfg.Telegram.AgentUsername),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
			return err
		}
		appLogger.Info("Worker exited")
		return nil
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case err := <-errChan:
		if err != nil && ctx.Err() == nil {
			appLogger.Error("Worker stopped with error", slog.Any("error", err))
		} else {
			appLogger.Info("Worker stopped gracefully")
		}
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initUploader picks S3 when a bucket is configured, a local directory otherwise
func initUploader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (artifact.Uploader, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("No storage bucket configured, uploading to a local directory",
			slog.String("dir", cfg.Storage.UploadDir),
		)
		return artifact.NewDirUploader(cfg.Storage.UploadDir, logger)
	}

	return artifact.NewS3Uploader(ctx, artifact.S3Config{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Prefix:          cfg.Storage.Prefix,
	}, logger)
}

// sendLimiter spaces prompts to the agent at perMinute, one at a time
func sendLimiter(perMinute float64) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perMinute/60), 1)
}

func workerID(cfg *config.Config) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return cfg.App.Name
	}
	return fmt.Sprintf("%s-%s", cfg.App.Name, host)
}
