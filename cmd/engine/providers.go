package main

import (
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/taskrun/engine/internal/engine"
	"github.com/taskrun/engine/pkg/config"
	"go.uber.org/zap"
)

// ProvideRedisClient builds a redis client from typed config.
// Returns nil when redis is disabled.
func ProvideRedisClient(cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideRunLock selects the distributed lock when redis is enabled, the
// in-process lock otherwise. Single-node deployments work without redis;
// multi-node ones must enable it.
func ProvideRunLock(cfg config.Config, rdb *redis.Client, logger *zap.Logger) engine.RunLock {
	if rdb == nil {
		return engine.NewMemoryRunLock(cfg.Engine.LockWaitTimeout)
	}
	return engine.NewRedisRunLock(rdb, cfg.Engine.LockDuration, cfg.Engine.LockWaitTimeout, cfg.Engine.LockRetryDelay, logger)
}

// ProvideWorkerQueue mirrors ProvideRunLock's redis/memory selection.
func ProvideWorkerQueue(cfg config.Config, rdb *redis.Client, logger *zap.Logger) engine.WorkerQueue {
	if rdb == nil {
		return engine.NewMemoryWorkerQueue(cfg.Engine.Visibility)
	}
	return engine.NewRedisWorkerQueue(rdb, cfg.Engine.Visibility, logger)
}

// ProvideRegistry builds the process-wide prometheus registry with the
// standard runtime collectors attached.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
