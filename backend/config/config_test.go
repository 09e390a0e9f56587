package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	yaml := `
running:
  port: 9000
redis:
  addrs: ["10.0.0.1:6379", "10.0.0.2:6379"]
sync:
  ack_timeout: 2s
  gap_budget: 4
`
	if err := os.WriteFile(filepath.Join(dir, "folderSyncConfig.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FOLDERSYNC_MYSQL_DSN", "user:pw@tcp(db:3306)/fs")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Running.Port != 9000 || len(cfg.Redis.Addrs) != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Sync.AckTimeout != 2*time.Second || cfg.Sync.GapBudget != 4 {
		t.Fatalf("sync = %+v", cfg.Sync)
	}
	// 没写的用默认值
	if cfg.Sync.MaxRetry != 3 || cfg.Kafka.Topic != "folder-revisions" || cfg.Auth.TTL != time.Hour {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Mysql.DSN != "user:pw@tcp(db:3306)/fs" {
		t.Fatalf("env override not applied: %q", cfg.Mysql.DSN)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Running.Port != 8081 || cfg.Sync.Heartbeat != 30*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
}
