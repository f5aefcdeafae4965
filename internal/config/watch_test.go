package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, path string, onChange func(*Config)) *Watcher {
	t.Helper()

	w, err := NewWatcher(path, onChange)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounceDur = 10 * time.Millisecond
	t.Cleanup(w.Stop)
	return w
}

func TestWatcherReloadsOnChange(t *testing.T) {
	t.Setenv("JITMOD_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Cache.MaxFailedAgeHours = 1
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w := newTestWatcher(t, path, func(c *Config) {
		reloaded <- c
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cfg.Cache.MaxFailedAgeHours = 48
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	select {
	case got := <-reloaded:
		if got.Cache.MaxFailedAgeHours != 48 {
			t.Errorf("expected reloaded MaxFailedAgeHours=48, got %v", got.Cache.MaxFailedAgeHours)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherKeepsPreviousOnBadReload(t *testing.T) {
	t.Setenv("JITMOD_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w := newTestWatcher(t, path, func(c *Config) {
		reloaded <- c
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// A write that fails to parse must not reach onChange. A valid
	// write afterwards must, and the first delivered config proves
	// the bad one was skipped.
	if err := os.WriteFile(path, []byte("backend: [broken"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	good := DefaultConfig()
	good.Server.ShutdownTimeoutSec = 33
	if err := good.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	select {
	case got := <-reloaded:
		if got.Server.ShutdownTimeoutSec != 33 {
			t.Errorf("expected the valid config, got ShutdownTimeoutSec=%d", got.Server.ShutdownTimeoutSec)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w := newTestWatcher(t, path, func(c *Config) {
		reloaded <- c
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "other.yaml"), []byte("x: 1"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case <-reloaded:
		t.Error("unrelated file change should not trigger a reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	w.Stop()
	w.Stop() // second call must not panic or block
}

func TestWatcherDoubleStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}
