package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SOMNIA_INGEST_SECRET", "test-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with no file: %v", err)
	}

	if cfg.Writer.Workers <= 0 {
		t.Error("expected positive default writer workers")
	}
	if cfg.Query.MaxWindowDays != 31 {
		t.Errorf("expected max_window_days=31, got %d", cfg.Query.MaxWindowDays)
	}
	if cfg.Store.Path != "data/somnia.db" {
		t.Errorf("derived db path: got %s", cfg.Store.Path)
	}
	if cfg.Queue.Dir != "data/queue" {
		t.Errorf("derived queue dir: got %s", cfg.Queue.Dir)
	}
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yml := strings.TrimSpace(`
server:
  listen: "127.0.0.1:7001"
gateway:
  secret: "file-secret"
  clock_skew: 10m
writer:
  workers: 8
`)
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	// Environment wins over the file.
	t.Setenv("SOMNIA_INGEST_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Listen != "127.0.0.1:7001" {
		t.Errorf("listen: got %s", cfg.Server.Listen)
	}
	if cfg.Gateway.Secret != "env-secret" {
		t.Errorf("env should override file secret, got %s", cfg.Gateway.Secret)
	}
	if cfg.Gateway.ClockSkew != 10*time.Minute {
		t.Errorf("clock_skew: got %v", cfg.Gateway.ClockSkew)
	}
	if cfg.Writer.Workers != 8 {
		t.Errorf("workers: got %d", cfg.Writer.Workers)
	}
}

func TestSetDataDir_RederivesPaths(t *testing.T) {
	t.Setenv("SOMNIA_INGEST_SECRET", "test-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg.SetDataDir("/var/lib/somnia")
	if cfg.Store.Path != "/var/lib/somnia/somnia.db" {
		t.Errorf("db path: got %s", cfg.Store.Path)
	}
	if cfg.Queue.Dir != "/var/lib/somnia/queue" {
		t.Errorf("queue dir: got %s", cfg.Queue.Dir)
	}
	if cfg.Archive.Dir != "/var/lib/somnia/archive" {
		t.Errorf("archive dir: got %s", cfg.Archive.Dir)
	}
}

func TestSetDataDir_KeepsExplicitPaths(t *testing.T) {
	t.Setenv("SOMNIA_INGEST_SECRET", "test-secret")
	t.Setenv("SOMNIA_DB_PATH", "/mnt/fast/somnia.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg.SetDataDir("/var/lib/somnia")
	if cfg.Store.Path != "/mnt/fast/somnia.db" {
		t.Errorf("explicit db path should survive: got %s", cfg.Store.Path)
	}
	if cfg.Queue.Dir != "/var/lib/somnia/queue" {
		t.Errorf("queue dir: got %s", cfg.Queue.Dir)
	}
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("SOMNIA_INGEST_SECRET", "")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected validation error without a secret")
	}
}

func TestValidate_BadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.Secret = "s"
	cfg.Writer.Workers = 0
	cfg.Query.MaxPoints = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !strings.Contains(err.Error(), "workers") {
		t.Errorf("error should mention workers: %v", err)
	}
	if !strings.Contains(err.Error(), "max_points") {
		t.Errorf("error should mention max_points: %v", err)
	}
}

func TestValidate_ArchiveDisabledSkipsChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.Secret = "s"
	cfg.Archive.Enabled = false
	cfg.Archive.HotDays = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled archive should not be validated: %v", err)
	}
}
