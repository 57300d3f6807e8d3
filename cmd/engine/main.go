package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskrun/engine/internal/api"
	"github.com/taskrun/engine/internal/engine"
	"github.com/taskrun/engine/internal/infra/persistence/runrepo"
	"github.com/taskrun/engine/internal/infra/persistence/snapshotrepo"
	"github.com/taskrun/engine/internal/infra/persistence/timerrepo"
	"github.com/taskrun/engine/internal/infra/persistence/waitpointrepo"
	"github.com/taskrun/engine/internal/orm"
	"github.com/taskrun/engine/pkg/config"
	"github.com/taskrun/engine/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting run engine",
		zap.String("instance_id", cfg.Engine.InstanceID))

	db, err := orm.New(orm.Config{
		Host:                  cfg.Database.Host,
		Port:                  cfg.Database.Port,
		Database:              cfg.Database.Database,
		User:                  cfg.Database.User,
		Password:              cfg.Database.Password,
		MaxConnections:        cfg.Database.MaxConnections,
		MaxIdleConnections:    cfg.Database.MaxIdleConnections,
		ConnectionMaxLifetime: cfg.Database.ConnectionMaxLifetime,
	})
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb := ProvideRedisClient(*cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	runRepo := runrepo.NewMysqlRepositoryImpl(db.DB())
	snapshotRepo := snapshotrepo.NewMysqlRepositoryImpl(db.DB())
	waitpointRepo := waitpointrepo.NewMysqlRepositoryImpl(db.DB())
	timerRepo := timerrepo.NewMysqlRepositoryImpl(db.DB())

	registry := ProvideRegistry()
	metrics := engine.NewMetrics(registry)
	bus := engine.NewEventBus(rdb, zapLogger)
	timers := engine.NewTimerService(timerRepo, cfg.Timer, zapLogger)
	locker := ProvideRunLock(*cfg, rdb, zapLogger)
	queue := ProvideWorkerQueue(*cfg, rdb, zapLogger)

	eng := engine.New(cfg.Engine, zapLogger, runRepo, snapshotRepo, waitpointRepo, locker, queue, timers, bus, metrics)
	if err := eng.Start(); err != nil {
		zapLogger.Fatal("Failed to start engine", zap.Error(err))
	}

	apiServer := api.NewServer(
		db,
		api.NewRunHandler(eng, runRepo),
		api.NewWaitpointHandler(eng),
		api.NewAttemptHandler(eng),
		registry,
		zapLogger,
	)

	httpServer := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        apiServer.Router(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		zapLogger.Info("Starting API server",
			zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zapLogger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("Failed to shutdown API server", zap.Error(err))
	}

	eng.Quit()

	zapLogger.Info("Shutdown complete")
}
