//go:build wireinject
// +build wireinject

package main

//go:generate go run -mod=mod github.com/google/wire/cmd/wire

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/taskrun/engine/internal/api"
	"github.com/taskrun/engine/internal/engine"
	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
	"github.com/taskrun/engine/internal/infra/persistence/runrepo"
	"github.com/taskrun/engine/internal/infra/persistence/snapshotrepo"
	"github.com/taskrun/engine/internal/infra/persistence/timerrepo"
	"github.com/taskrun/engine/internal/infra/persistence/waitpointrepo"
	"github.com/taskrun/engine/internal/orm"
	"github.com/taskrun/engine/pkg/config"
	"go.uber.org/zap"
)

func InitializeServer(logger *zap.Logger, cfg config.Config, db commonrepo.DB, storage *orm.Storage) (*api.Server, error) {
	wire.Build(
		ProvideRedisClient,
		ProvideRunLock,
		ProvideWorkerQueue,
		ProvideRegistry,
		wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
		wire.Bind(new(prometheus.Gatherer), new(*prometheus.Registry)),
		wire.FieldsOf(new(config.Config), "Engine", "Timer"),

		engine.Provider,

		// http api providers
		api.Provider,

		// infra providers
		runrepo.Provider,
		snapshotrepo.Provider,
		waitpointrepo.Provider,
		timerrepo.Provider,
	)
	return nil, nil
}
