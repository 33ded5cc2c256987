package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestContextFieldsAreAttached(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	l, err := NewLogger(Config{Level: "debug", Format: "json", OutputPath: out, ErrorPath: filepath.Join(dir, "err.log")})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	ctx := WithUser(WithDuel(context.Background(), "duel-7"), "alice")
	l.WithContext(ctx).Info("submission judged", zap.String("verdict", "passed"))
	_ = l.Sync()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"duel_id":"duel-7"`, `"user_id":"alice"`, `"verdict":"passed"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %s missing %s", line, want)
		}
	}
}

func TestErrorsGoToErrorPath(t *testing.T) {
	dir := t.TempDir()
	out, errOut := filepath.Join(dir, "app.log"), filepath.Join(dir, "err.log")
	l, err := NewLogger(Config{Format: "json", OutputPath: out, ErrorPath: errOut})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.WithContext(context.Background()).Error("judge failed")
	l.WithContext(context.Background()).Debug("filtered")
	_ = l.Sync()

	info, _ := os.ReadFile(out)
	if len(info) != 0 {
		t.Fatalf("expected empty info log, got %s", info)
	}
	errs, _ := os.ReadFile(errOut)
	if !strings.Contains(string(errs), "judge failed") {
		t.Fatalf("expected error in error log, got %s", errs)
	}
}

func TestWithDuelIgnoresEmptyID(t *testing.T) {
	ctx := context.Background()
	if WithDuel(ctx, "") != ctx || WithUser(ctx, "") != ctx {
		t.Fatalf("empty ids must not wrap the context")
	}
}

func TestPackageFunctionsWithoutInit(t *testing.T) {
	prev := globalLogger
	globalLogger = nil
	defer func() { globalLogger = prev }()

	Info(context.Background(), "dropped")
	if WithFields(context.Background()) != nil {
		t.Fatalf("expected nil logger before Init")
	}
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
