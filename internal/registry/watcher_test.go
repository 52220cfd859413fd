package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeEndpoints(t *testing.T, path string, eps []CIEndpoint) {
	t.Helper()
	raw, err := json.Marshal(eps)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatchReturnsImmediatelyAndRefreshesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	writeEndpoints(t, path, []CIEndpoint{{Name: "numa", Address: "127.0.0.1:9000"}})

	src := NewFileSource(path)
	reg := New(src)
	reg.Refresh(context.Background())
	if reg.Count() != 1 {
		t.Fatalf("expected 1 endpoint, got %d", reg.Count())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan error, 1)
	go func() { started <- reg.Watch(ctx, src) }()
	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("watch setup: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after setup")
	}

	writeEndpoints(t, path, []CIEndpoint{
		{Name: "numa", Address: "127.0.0.1:9000"},
		{Name: "rhea", Address: "127.0.0.1:9001"},
	})

	deadline := time.Now().Add(3 * time.Second)
	for reg.Count() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("file change not picked up, still %d endpoints", reg.Count())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestWatchSetupErrorOnMissingDirectory(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "no-such-dir", "registry.json"))
	reg := New(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reg.Watch(ctx, src); err == nil {
		t.Fatal("expected setup error for unwatchable directory")
	}
}
