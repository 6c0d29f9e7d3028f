// Package setup bootstraps the application's shared dependencies in the
// correct order and tears them down in reverse.
package setup

import (
	"context"
	"log"

	"github.com/crosswatch/crosswatch/internal/database"
	"github.com/crosswatch/crosswatch/internal/redis"
	"github.com/crosswatch/crosswatch/internal/setup/config"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// App bundles all core dependencies and services needed by the application.
type App struct {
	Config       *config.Config // Application configuration
	Logger       *zap.Logger    // Main application logger
	DB           database.Client
	RedisManager *redis.Manager
	StatusClient rueidis.Client // Redis client for worker status reporting
	pprofServer  *pprofServer
}

// InitializeApp bootstraps all application dependencies, ensuring each
// component has its required dependencies available. Pending database
// migrations run automatically.
func InitializeApp(ctx context.Context) (*App, error) {
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(&cfg.Debug)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded configuration", zap.String("configDir", configDir))

	redisManager := redis.NewManager(&cfg.Redis, logger)

	db, err := database.NewConnection(ctx, &cfg.PostgreSQL, logger, true)
	if err != nil {
		return nil, err
	}

	statusClient, err := redisManager.GetClient(redis.WorkerStatusDBIndex)
	if err != nil {
		return nil, err
	}

	var pprofSrv *pprofServer

	if cfg.Debug.EnablePprof {
		srv, err := startPprofServer(cfg.Debug.PprofPort, logger)
		if err != nil {
			logger.Error("Failed to start pprof server", zap.Error(err))
		} else {
			pprofSrv = srv

			logger.Warn("pprof debugging endpoint enabled - this should not be used in production!")
		}
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		RedisManager: redisManager,
		StatusClient: statusClient,
		pprofServer:  pprofSrv,
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse
// initialization order. Logs but does not fail on cleanup errors so every
// component gets a shutdown attempt.
func (s *App) Cleanup(ctx context.Context) {
	if s.pprofServer != nil {
		if err := s.pprofServer.srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to shutdown pprof server", zap.Error(err))
		}

		s.pprofServer.listener.Close()
	}

	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Redis closes last as other components might need it during cleanup.
	s.RedisManager.Close()
}
