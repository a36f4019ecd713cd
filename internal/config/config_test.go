package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CityName != "agora" || cfg.API.Port != 8080 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Scheduler.TickInterval != time.Minute {
		t.Fatalf("tick interval=%v want 1m", cfg.Scheduler.TickInterval)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agora.yaml")
	content := `city_name: smallville
api:
  port: 9999
scheduler:
  tick_interval: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AGORA_ADMIN_KEY", "hunter2")
	t.Setenv("AGORA_DB_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CityName != "smallville" || cfg.API.Port != 9999 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Scheduler.TickInterval != 5*time.Second {
		t.Fatalf("tick interval=%v want 5s", cfg.Scheduler.TickInterval)
	}
	if cfg.API.AdminKey != "hunter2" {
		t.Fatalf("admin key=%q want env override", cfg.API.AdminKey)
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Fatalf("db path=%q want env override", cfg.DBPath)
	}
}
