package main

import (
	"flag"
	"log"

	"github.com/taskrun/engine/internal/infra/persistence/runrepo"
	"github.com/taskrun/engine/internal/infra/persistence/snapshotrepo"
	"github.com/taskrun/engine/internal/infra/persistence/timerrepo"
	"github.com/taskrun/engine/internal/infra/persistence/waitpointrepo"
	"github.com/taskrun/engine/internal/orm"
	"github.com/taskrun/engine/pkg/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

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
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	err = db.AutoMigrate(
		&runrepo.TaskRun{},
		&snapshotrepo.ExecutionSnapshot{},
		&waitpointrepo.Waitpoint{},
		&waitpointrepo.TaskRunWaitpoint{},
		&timerrepo.TimerEntry{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	log.Println("Migration completed successfully")
}
