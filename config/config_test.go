package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetsmith/armada/policy"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Sweep.IntervalSeconds != 30 {
		t.Errorf("Sweep interval = %d", cfg.Sweep.IntervalSeconds)
	}
	if cfg.Health.BatchSize != 4 {
		t.Errorf("Health batch size = %d", cfg.Health.BatchSize)
	}
}

func TestLoad(t *testing.T) {
	content := `
server:
  addr: ":8099"
auth:
  admin_user: ops
data_dir: /var/lib/armada
log_level: debug
sweep:
  interval_seconds: 10
policy:
  - action: "secrets.*"
    effect: deny
  - action: "task.dispatch"
    effect: allow
    subject: agent-1
    confirm: true
`
	path := filepath.Join(t.TempDir(), "armada.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8099" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.AdminUser != "ops" {
		t.Errorf("AdminUser = %q", cfg.Auth.AdminUser)
	}
	if cfg.DataDir != "/var/lib/armada" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Sweep.IntervalSeconds != 10 {
		t.Errorf("Sweep interval = %d", cfg.Sweep.IntervalSeconds)
	}
	if len(cfg.Policy) != 2 {
		t.Fatalf("len(Policy) = %d", len(cfg.Policy))
	}
	if cfg.Policy[0].Effect != policy.EffectDeny {
		t.Errorf("Policy[0].Effect = %q", cfg.Policy[0].Effect)
	}
	if !cfg.Policy[1].Confirm || cfg.Policy[1].Subject != "agent-1" {
		t.Errorf("Policy[1] = %+v", cfg.Policy[1])
	}
}

func TestLoad_KeepsDefaultsForOmittedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "armada.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of missing file should error")
	}
}

func TestDataPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.TaskDBPath(); got != filepath.Join("/data", "tasks.db") {
		t.Errorf("TaskDBPath = %q", got)
	}
	if got := cfg.VaultPath(); got != filepath.Join("/data", "vault.json") {
		t.Errorf("VaultPath = %q", got)
	}
}
