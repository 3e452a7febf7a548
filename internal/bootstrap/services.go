package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vidmark/vidmark/config"
	"github.com/vidmark/vidmark/internal/adapters/worker"
	"github.com/vidmark/vidmark/internal/data"
	"github.com/vidmark/vidmark/internal/media"
	"github.com/vidmark/vidmark/internal/service"
	"github.com/vidmark/vidmark/internal/storage"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Videos   *service.VideoService
	Pipeline *service.PipelineService
	Worker   *worker.Runner
	Store    *storage.Gateway
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires repositories, the object store, and the processing
// services. The worker runner doubles as the dispatcher handed to the
// video service, so HTTP enqueues land on the same queue the worker
// consumes.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	repo := data.NewVideoRepo(deps.DB, logger)
	statusCache := data.NewStatusCache(deps.RedisClient, cfg.Cache.StatusTTL)

	store, err := ConnectStorage(ctx, StorageDeps{
		Storage: cfg.Storage,
		Media:   cfg.Media,
		Logger:  logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("connect storage: %w", err)
	}

	runner := media.NewRunner(cfg.Media.FFmpegPath, cfg.Media.Timeout, logger)

	pipeline, err := service.NewPipelineService(service.PipelineServiceOptions{
		Repo:             repo,
		Store:            store,
		Runner:           runner,
		Cache:            statusCache,
		Logger:           logger,
		WatermarkBaseURL: cfg.Media.WatermarkBaseURL,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build pipeline service: %w", err)
	}

	workerRunner, err := worker.NewRunner(worker.RunnerOptions{
		Processor: pipeline,
		Config:    cfg.Worker,
		Logger:    logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build worker: %w", err)
	}

	videos, err := service.NewVideoService(service.VideoServiceOptions{
		Repo:             repo,
		Store:            store,
		Cache:            statusCache,
		Dispatcher:       workerRunner,
		Logger:           logger,
		WatermarkBaseURL: cfg.Media.WatermarkBaseURL,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build video service: %w", err)
	}

	return ServiceContainer{
		Videos:   videos,
		Pipeline: pipeline,
		Worker:   workerRunner,
		Store:    store,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. This function blocks until a shutdown signal is received or a
// service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, len(enabledServices)+1)

	var httpServer *http.Server
	if enabledServices[config.ServiceModeHTTP] {
		httpServer = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
	}

	var workerDone <-chan struct{}
	if enabledServices[config.ServiceModeWorker] {
		workerDone = launchWorker(serviceCtx, cfg.Services.Worker, errCh, logger)
	}

	return waitForShutdown(shutdownConfig{
		ctx:        serviceCtx,
		cancel:     cancel,
		errCh:      errCh,
		httpServer: httpServer,
		workerDone: workerDone,
		logger:     logger,
	})
}

// launchWorker starts the queue consumer in the background, reporting a
// non-cancellation failure on errCh.
func launchWorker(
	ctx context.Context,
	runner *worker.Runner,
	errCh chan<- error,
	logger *slog.Logger,
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := runner.Run(ctx); err != nil {
			select {
			case errCh <- fmt.Errorf("worker failed: %w", err):
			case <-ctx.Done():
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", "worker")
	return done
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx        context.Context
	cancel     context.CancelFunc
	errCh      <-chan error
	httpServer *http.Server
	workerDone <-chan struct{}
	logger     *slog.Logger
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	if cfg.workerDone != nil {
		select {
		case <-cfg.workerDone:
			cfg.logger.Info("worker stopped")
		case <-time.After(shutdownWaitTimeout):
			cfg.logger.Warn("timeout waiting for worker to stop")
		}
	}

	return nil
}
