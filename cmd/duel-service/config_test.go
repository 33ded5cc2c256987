package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeduel/internal/duel/catalog"
	sandboxConfig "codeduel/internal/judge/sandbox/config"
)

func TestShippedConfigsLoad(t *testing.T) {
	cfg, err := loadAppConfig("../../configs/duel_service.yaml")
	if err != nil {
		t.Fatalf("load service config: %v", err)
	}
	if cfg.Registry.Duel.DuelWindow != 30*time.Minute || cfg.Records.EnqueueTimeout != time.Second {
		t.Fatalf("unexpected duel settings: %+v %+v", cfg.Registry.Duel, cfg.Records)
	}
	if !cfg.HTTP.CORS.Enabled || cfg.HTTP.CreateRate.IPMax != 20 {
		t.Fatalf("unexpected http settings: %+v", cfg.HTTP)
	}

	langs, err := sandboxConfig.LoadFile("../../configs/languages.yaml")
	if err != nil {
		t.Fatalf("load languages: %v", err)
	}
	for _, id := range []string{"python", "javascript", "java", "cpp", "csharp"} {
		if !langs.Supports(id) {
			t.Fatalf("expected %s to be supported", id)
		}
	}

	tasks, err := catalog.LoadFile("../../configs/tasks.yaml")
	if err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(tasks.Tasks()) == 0 {
		t.Fatalf("expected sample tasks")
	}
}

func TestLoadAppConfigDefaultsAndRequiredFields(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	minimal := write("minimal.yaml", "auth:\n  jwtSecret: s\nredis:\n  addr: r:6379\nkafka:\n  brokers: [k:9092]\n")
	cfg, err := loadAppConfig(minimal)
	if err != nil {
		t.Fatalf("load minimal: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Catalog.LocalPath != defaultTasksPath || cfg.Sandbox.LanguagesPath != defaultLanguagesPath {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Judge.StatusTTL != defaultStatusTTL {
		t.Fatalf("expected default status ttl, got %s", cfg.Judge.StatusTTL)
	}

	objectOnly := write("object.yaml", "auth:\n  jwtSecret: s\nredis:\n  addr: r:6379\nkafka:\n  brokers: [k:9092]\nminio:\n  bucket: b\ncatalog:\n  useObject: true\n")
	cfg, err = loadAppConfig(objectOnly)
	if err != nil {
		t.Fatalf("load object-only: %v", err)
	}
	if cfg.Catalog.LocalPath != "" || cfg.Catalog.Object.Bucket != "b" {
		t.Fatalf("expected object catalog on minio bucket, got %+v", cfg.Catalog)
	}

	for name, body := range map[string]string{
		"no-secret.yaml": "redis:\n  addr: r\nkafka:\n  brokers: [k]\n",
		"no-redis.yaml":  "auth:\n  jwtSecret: s\nkafka:\n  brokers: [k]\n",
		"no-kafka.yaml":  "auth:\n  jwtSecret: s\nredis:\n  addr: r\n",
	} {
		if _, err := loadAppConfig(write(name, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
