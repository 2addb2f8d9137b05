package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/akalavre/panicswap-production-sub000/internal/alerts"
	"github.com/akalavre/panicswap-production-sub000/internal/classify"
	"github.com/akalavre/panicswap-production-sub000/internal/honeypot"
	"github.com/akalavre/panicswap-production-sub000/internal/monitor"
	"github.com/akalavre/panicswap-production-sub000/internal/pattern"
	"github.com/akalavre/panicswap-production-sub000/internal/risk"
	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
)

// Config is the root configuration structure for the sentinel.
type Config struct {
	General    GeneralConfig          `yaml:"general"`
	Kafka      KafkaConfig            `yaml:"kafka"`
	ClickHouse ClickHouseConfig       `yaml:"clickhouse"`
	History    snapshot.HistoryConfig `yaml:"history"`
	Thresholds classify.Thresholds    `yaml:"thresholds"`
	Honeypot   honeypot.TrackerConfig `yaml:"honeypot"`
	Pattern    pattern.Config         `yaml:"pattern"`
	Risk       risk.Config            `yaml:"risk"`
	Monitor    monitor.Config         `yaml:"monitor"`
	Hub        alerts.HubConfig       `yaml:"hub"`
	Metrics    MetricsConfig          `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
	LingerMs    int      `yaml:"linger_ms"`
}

type ClickHouseConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DSN          string `yaml:"dsn"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses a YAML configuration file. Missing sections fall
// back to each package's defaults, so an empty file is a valid config.
func Load(path string) (*Config, error) {
	// Pull in a .env file if one exists so ${VAR} expansion sees it.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// Defaults returns a config populated with every package's defaults.
func Defaults() *Config {
	return &Config{
		History:    snapshot.DefaultHistoryConfig(),
		Thresholds: classify.DefaultThresholds(),
		Honeypot:   honeypot.DefaultTrackerConfig(),
		Pattern:    pattern.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Monitor:    monitor.DefaultConfig(),
		Hub:        alerts.DefaultHubConfig(),
	}
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "sentinel-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.TopicPrefix == "" {
		cfg.Kafka.TopicPrefix = "sentinel."
	}
	if cfg.Kafka.LingerMs == 0 {
		cfg.Kafka.LingerMs = 5
	}
	if cfg.ClickHouse.DSN == "" {
		cfg.ClickHouse.DSN = "clickhouse://localhost:9000/sentinel"
	}
	if cfg.ClickHouse.Database == "" {
		cfg.ClickHouse.Database = "sentinel"
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}
