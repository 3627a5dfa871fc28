package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yueye109/chatvault/internal/config"
)

// These tests share viper's package-level state, so none of them run in
// parallel.

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with absent file should fall back to defaults: %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.HTTP.Addr != ":8055" {
		t.Errorf("unexpected http addr default: %q", cfg.HTTP.Addr)
	}
	if cfg.Database.MaxOpenConns != 5 || cfg.Database.OperationTimeout != 10*time.Second {
		t.Errorf("unexpected database defaults: %+v", cfg.Database)
	}
	if !cfg.Media.SaveImages || !cfg.Media.SaveVideos {
		t.Error("media capture should default to enabled")
	}
	if !cfg.Retention.Enabled || cfg.Retention.KeepDays != 60 {
		t.Errorf("unexpected retention defaults: %+v", cfg.Retention)
	}
	if cfg.Retention.Schedule != "0 4 * * *" {
		t.Errorf("unexpected retention schedule: %q", cfg.Retention.Schedule)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
log:
  level: debug
  format: text
http:
  addr: ":9000"
retention:
  keep_days: 7
admin:
  identity: "10001"
  secret: "hunter2"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("file values not applied: %+v", cfg.Log)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("http addr not applied: %q", cfg.HTTP.Addr)
	}
	if cfg.Retention.KeepDays != 7 {
		t.Errorf("keep_days not applied: %d", cfg.Retention.KeepDays)
	}
	if cfg.Admin.Identity != "10001" || cfg.Admin.Secret != "hunter2" {
		t.Errorf("admin credentials not applied: %+v", cfg.Admin)
	}
	// Unset sections keep their defaults.
	if cfg.Database.Path != "chatvault.db" {
		t.Errorf("default database path lost: %q", cfg.Database.Path)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "bad log level",
			yaml: "log:\n  level: loud\n",
		},
		{
			name: "keep_days below minimum",
			yaml: "retention:\n  keep_days: 0\n",
		},
		{
			name: "admin id required with telegram token",
			yaml: "telegram:\n  token: \"123:abc\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatalf("write config failed: %v", err)
			}
			_, err := config.Load(path)
			if !errors.Is(err, config.ErrConfiguration) {
				t.Errorf("want ErrConfiguration, got %v", err)
			}
		})
	}
}
