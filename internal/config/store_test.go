package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/simpletutor/voicefront/internal/config"
)

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal within timeout")
	}
}

func TestFileStore_CreatesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "user.yaml")

	s, err := config.OpenFileStore(path, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	defer s.Close()

	u, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if u != config.DefaultUserConfig() {
		t.Errorf("Load() = %+v, want defaults", u)
	}
	onDisk, err := config.LoadUserConfig(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if onDisk != u {
		t.Errorf("file = %+v", onDisk)
	}
}

func TestFileStore_SaveClampsAndSignals(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "user.yaml")

	s, err := config.OpenFileStore(path, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	defer s.Close()

	u := config.DefaultUserConfig()
	u.ManualListening = true
	u.NOff = 0
	if err := s.Save(u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	waitSignal(t, s.Changes())

	got, _ := s.Load()
	if !got.ManualListening || got.NOff != 1 {
		t.Errorf("Load() = %+v", got)
	}
	onDisk, err := config.LoadUserConfig(path)
	if err != nil || onDisk != got {
		t.Errorf("file = %+v, %v", onDisk, err)
	}
}

func TestFileStore_SaveIsNotEchoed(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "user.yaml")

	s, err := config.OpenFileStore(path, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	defer s.Close()

	u := config.DefaultUserConfig()
	u.MergeGapMs = 400
	if err := s.Save(u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	waitSignal(t, s.Changes())

	// The watcher must not report the store's own write a second time.
	select {
	case <-s.Changes():
		t.Error("unexpected second change signal after Save")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFileStore_ExternalEdit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "user.yaml")

	s, err := config.OpenFileStore(path, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	defer s.Close()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "always_on: false\nmanual_listening: true\nmerge_gap_ms: 500\n")
	waitSignal(t, s.Changes())

	got, _ := s.Load()
	if got.AlwaysOn || !got.ManualListening || got.MergeGapMs != 500 {
		t.Errorf("Load() = %+v", got)
	}
}

func TestFileStore_ReadsExisting(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "user.yaml")
	writeFile(t, path, "n_on: 2\n")

	s, err := config.OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	defer s.Close()

	if got, _ := s.Load(); got.NOn != 2 || got.NOff != 75 {
		t.Errorf("Load() = %+v", got)
	}
}

func TestFileStore_InvalidExisting(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "user.yaml")
	writeFile(t, path, "n_on: [1, 2]\n")

	if _, err := config.OpenFileStore(path); err == nil {
		t.Fatal("expected error for invalid file")
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()
	s := config.NewMemStore(config.DefaultUserConfig())

	u, _ := s.Load()
	u.AlwaysOn = false
	u.NOn = -4
	if err := s.Save(u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	waitSignal(t, s.Changes())

	got, _ := s.Load()
	if got.AlwaysOn || got.NOn != 1 {
		t.Errorf("Load() = %+v", got)
	}
	if s.Saves() != 1 {
		t.Errorf("Saves() = %d", s.Saves())
	}
}
