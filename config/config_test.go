package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 5555 || cfg.HubName != "Serveur" || cfg.ExitGrace != time.Second {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.IdleTimeout != 0 {
		t.Errorf("Expected idle timeout to be disabled by default, got %v", cfg.IdleTimeout)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yaml")
	yaml := "port: 6000\nhub_name: Maison\nidle_timeout: 5m\nretention_days: 30\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LNM_PORT", "7000")
	t.Setenv("LNM_EXIT_GRACE_MS", "250")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Expected env to override file port, got %d", cfg.Port)
	}
	if cfg.HubName != "Maison" || cfg.IdleTimeout != 5*time.Minute || cfg.RetentionDays != 30 {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.ExitGrace != 250*time.Millisecond {
		t.Errorf("Expected 250ms grace, got %v", cfg.ExitGrace)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected out of range port to fail")
	}

	cfg = Default()
	cfg.DBPath = ""
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected empty db path to fail")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Expected missing file to fail")
	}
}
