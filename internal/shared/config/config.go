package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all configuration for the orchestrator server.
type Config struct {
	REST      RESTConfig      `mapstructure:"rest"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RESTConfig contains REST API server configuration.
type RESTConfig struct {
	Addr string `mapstructure:"addr"`
}

// QueueConfig contains task queue and lease configuration.
type QueueConfig struct {
	LeaseTimeout      time.Duration `mapstructure:"lease_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	MaxRetries        int           `mapstructure:"max_retries"`
	StuckJobTimeout   time.Duration `mapstructure:"stuck_job_timeout"`
}

// WorkersConfig contains worker pool configuration.
type WorkersConfig struct {
	PoolSize     int           `mapstructure:"pool_size"`
	StepDuration time.Duration `mapstructure:"step_duration"`
}

// BroadcastConfig contains progress fan-out configuration.
type BroadcastConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// BatchConfig contains batch inference configuration.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// DatabaseConfig selects the job store backend. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RegistryConfig contains model registry configuration.
type RegistryConfig struct {
	Root string `mapstructure:"root"`
}

// LoggingConfig contains logging-related configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads the server configuration from the given path. If configPath is
// empty, it looks for server.yaml in the config/ directory. Environment
// variables with MEDLIT_ prefix override config file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("rest.addr", ":8080")
	v.SetDefault("queue.lease_timeout", 30*time.Second)
	v.SetDefault("queue.heartbeat_interval", 10*time.Second)
	v.SetDefault("queue.reap_interval", 5*time.Second)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.stuck_job_timeout", 3*time.Hour)
	v.SetDefault("workers.pool_size", 4)
	v.SetDefault("workers.step_duration", 100*time.Millisecond)
	v.SetDefault("broadcast.buffer_size", 16)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("database.url", "")
	v.SetDefault("registry.root", "./models")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("server")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MEDLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
