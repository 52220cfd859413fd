package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("CIFABRIC_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("USER", "tess")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.FailureThreshold != 3 {
		t.Errorf("expected default failure threshold 3, got %d", cfg.Pool.FailureThreshold)
	}
	if cfg.Pool.ConnectTimeout != 2*time.Second {
		t.Errorf("expected default connect timeout 2s, got %s", cfg.Pool.ConnectTimeout)
	}
	if cfg.Identity.Name != "tess" {
		t.Errorf("identity should fall back to $USER, got %q", cfg.Identity.Name)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// Durations are JSON numbers in nanoseconds, as encoding/json writes them.
	body := `{
		"identity": {"name": "numa"},
		"wire": {"requestTimeout": 10000000000},
		"broadcast": {"deadline": 1000000000}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CIFABRIC_CONFIG", path)
	t.Setenv("CIFABRIC_BROADCAST_DEADLINE", "4s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Identity.Name != "numa" {
		t.Errorf("file value not applied: %q", cfg.Identity.Name)
	}
	if cfg.Wire.RequestTimeout != 10*time.Second {
		t.Errorf("file duration not applied: %s", cfg.Wire.RequestTimeout)
	}
	if cfg.Broadcast.Deadline != 4*time.Second {
		t.Errorf("env must override file: %s", cfg.Broadcast.Deadline)
	}
	// Untouched sections keep defaults.
	if cfg.Pool.ReconnectBackoff != 5*time.Second {
		t.Errorf("default backoff lost: %s", cfg.Pool.ReconnectBackoff)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	t.Setenv("CIFABRIC_CONFIG", path)

	cfg := DefaultConfig()
	cfg.Identity.Name = "rhea"
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("load after save: %v", err)
	}
	if loaded.Identity.Name != "rhea" {
		t.Errorf("round trip lost identity: %q", loaded.Identity.Name)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got, err := ExpandPath("~/.cifabric/routes.db")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, ".cifabric", "routes.db")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	plain, err := ExpandPath("/var/lib/cifabric")
	if err != nil || plain != "/var/lib/cifabric" {
		t.Errorf("absolute path must pass through, got %s (%v)", plain, err)
	}
}
