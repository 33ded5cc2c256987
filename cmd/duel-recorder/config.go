package main

import (
	"fmt"
	"os"
	"time"

	"codeduel/internal/common/cache"
	"codeduel/internal/common/db"
	"codeduel/internal/common/mq"
	"codeduel/internal/recorder"
	"codeduel/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultMigrateTimeout = 30 * time.Second
)

// AppConfig holds duel-recorder configuration.
type AppConfig struct {
	Logger   logger.Config     `yaml:"logger"`
	Database db.MySQLConfig    `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    mq.KafkaConfig    `yaml:"kafka"`
	Recorder recorder.Config   `yaml:"recorder"`
	// Migrate creates missing tables at startup.
	Migrate bool `yaml:"migrate"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	return &cfg, nil
}
