package main

import (
	"fmt"
	"os"
	"time"

	"codeduel/internal/common/cache"
	commonmw "codeduel/internal/common/http/middleware"
	"codeduel/internal/common/mq"
	"codeduel/internal/common/storage"
	"codeduel/internal/duel/catalog"
	"codeduel/internal/duel/gateway"
	"codeduel/internal/duel/publisher"
	"codeduel/internal/duel/registry"
	"codeduel/internal/judge/queue"
	"codeduel/internal/judge/sandbox/engine"
	"codeduel/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStatusTTL       = 24 * time.Hour
	defaultLanguagesPath   = "configs/languages.yaml"
	defaultTasksPath       = "configs/tasks.yaml"
	defaultWorkRoot        = "/var/lib/codeduel/work"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// HTTPConfig holds browser access and abuse limits for the REST routes.
type HTTPConfig struct {
	CORS       commonmw.CORSConfig `yaml:"cors"`
	CreateRate commonmw.RatePolicy `yaml:"createRate"`
	AcceptRate commonmw.RatePolicy `yaml:"acceptRate"`
}

// AuthConfig holds the shared secret used to verify player tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// SandboxConfig locates language definitions and the scratch directory.
type SandboxConfig struct {
	LanguagesPath string        `yaml:"languagesPath"`
	WorkRoot      string        `yaml:"workRoot"`
	Engine        engine.Config `yaml:"engine"`
}

// JudgeConfig holds the judging queue and status retention.
type JudgeConfig struct {
	Queue     queue.Config  `yaml:"queue"`
	StatusTTL time.Duration `yaml:"statusTTL"`
}

// CatalogConfig selects task sources. Local tasks are consulted before the
// object store; with SeedObject they are also uploaded to it at startup.
type CatalogConfig struct {
	LocalPath  string               `yaml:"localPath"`
	UseObject  bool                 `yaml:"useObject"`
	SeedObject bool                 `yaml:"seedObject"`
	Object     catalog.ObjectConfig `yaml:"object"`
}

// AppConfig holds duel-service configuration.
type AppConfig struct {
	Server   ServerConfig            `yaml:"server"`
	HTTP     HTTPConfig              `yaml:"http"`
	Logger   logger.Config           `yaml:"logger"`
	Redis    cache.RedisConfig       `yaml:"redis"`
	Kafka    mq.KafkaConfig          `yaml:"kafka"`
	MinIO    storage.MinIOConfig     `yaml:"minio"`
	Auth     AuthConfig              `yaml:"auth"`
	Sandbox  SandboxConfig           `yaml:"sandbox"`
	Judge    JudgeConfig             `yaml:"judge"`
	Catalog  CatalogConfig           `yaml:"catalog"`
	Records  publisher.RecordsConfig `yaml:"records"`
	Registry registry.Config         `yaml:"registry"`
	Gateway  gateway.Config          `yaml:"gateway"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwtSecret is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Sandbox.LanguagesPath == "" {
		cfg.Sandbox.LanguagesPath = defaultLanguagesPath
	}
	if cfg.Sandbox.WorkRoot == "" {
		cfg.Sandbox.WorkRoot = defaultWorkRoot
	}
	if cfg.Judge.StatusTTL == 0 {
		cfg.Judge.StatusTTL = defaultStatusTTL
	}
	if cfg.Catalog.LocalPath == "" && !cfg.Catalog.UseObject {
		cfg.Catalog.LocalPath = defaultTasksPath
	}
	if cfg.Catalog.UseObject && cfg.Catalog.Object.Bucket == "" {
		cfg.Catalog.Object.Bucket = cfg.MinIO.Bucket
	}
	return &cfg, nil
}
