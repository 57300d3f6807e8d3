package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Timer    TimerConfig    `mapstructure:"timer"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type EngineConfig struct {
	InstanceID      string        `mapstructure:"instance_id"`
	LockDuration    time.Duration `mapstructure:"lock_duration"`
	LockWaitTimeout time.Duration `mapstructure:"lock_wait_timeout"`
	LockRetryDelay  time.Duration `mapstructure:"lock_retry_delay"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	DequeueMaxItems int           `mapstructure:"dequeue_max_items"`
	Visibility      time.Duration `mapstructure:"visibility_timeout"`
}

type TimerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ClaimBatch   int           `mapstructure:"claim_batch"`
}

type DatabaseConfig struct {
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	Database              string        `mapstructure:"database"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("engine.instance_id", "engine-001")
	viper.SetDefault("engine.lock_duration", "5s")
	viper.SetDefault("engine.lock_wait_timeout", "10s")
	viper.SetDefault("engine.lock_retry_delay", "50ms")
	viper.SetDefault("engine.max_attempts", 10)
	viper.SetDefault("engine.dequeue_max_items", 10)
	viper.SetDefault("engine.visibility_timeout", "30s")

	viper.SetDefault("timer.poll_interval", "1s")
	viper.SetDefault("timer.claim_batch", 100)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.max_connections", 20)
	viper.SetDefault("database.max_idle_connections", 10)
	viper.SetDefault("database.connection_max_lifetime", "1h")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.max_header_bytes", 1048576)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
