package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// EngineConfig holds the per-execution policy defaults applied when the
// caller does not set them on the context.
type EngineConfig struct {
	DefaultTimeout    time.Duration `yaml:"default_timeout"`
	DefaultMaxRetries int           `yaml:"default_max_retries"`
	EnableRollback    bool          `yaml:"enable_rollback"`
	EnableMonitoring  bool          `yaml:"enable_monitoring"`
}

type AlertThresholds struct {
	MemoryUtilization  float64 `yaml:"memory_utilization"`
	CPUUtilization     float64 `yaml:"cpu_utilization"`
	NetworkUtilization float64 `yaml:"network_utilization"`
}

type MonitorConfig struct {
	MaxEventsInMemory int             `yaml:"max_events_in_memory"`
	MetricsInterval   time.Duration   `yaml:"metrics_interval"`
	EnableRealTime    bool            `yaml:"enable_real_time"`
	Alerts            AlertThresholds `yaml:"alerts"`
}

type RecoveryConfig struct {
	MaxCheckpointsPerPattern int `yaml:"max_checkpoints_per_pattern"`
	HistoryLimit             int `yaml:"history_limit"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

func defaults() Config {
	return Config{
		Engine: EngineConfig{
			DefaultTimeout:    5 * time.Minute,
			DefaultMaxRetries: 3,
			EnableRollback:    true,
			EnableMonitoring:  true,
		},
		Monitor: MonitorConfig{
			MaxEventsInMemory: 10000,
			MetricsInterval:   5 * time.Second,
			EnableRealTime:    true,
			Alerts: AlertThresholds{
				MemoryUtilization:  0.9,
				CPUUtilization:     0.85,
				NetworkUtilization: 0.8,
			},
		},
		Recovery: RecoveryConfig{
			MaxCheckpointsPerPattern: 10,
			HistoryLimit:             1000,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/syntonia.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SYNTONIA_CONFIG")
	if path == "" {
		path = "config/syntonia.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SYNTONIA_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SYNTONIA_NATS_DATA_DIR"); v != "" {
		cfg.NATS.DataDir = v
	}
	if v := os.Getenv("SYNTONIA_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SYNTONIA_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SYNTONIA_WEB_AUTH"); v != "" {
		cfg.Web.Auth = v
	}
}
