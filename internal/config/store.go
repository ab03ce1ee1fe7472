package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Store owns the user preferences. The capture loop reads from it and is told
// about edits through Changes; it never mutates the stored value directly
// except through Save.
type Store interface {
	// Load returns the current preferences.
	Load() (UserConfig, error)

	// Save clamps and persists u.
	Save(u UserConfig) error

	// Changes delivers a signal after the stored value changed. Signals are
	// coalesced: one pending signal may stand for several edits.
	Changes() <-chan struct{}
}

// FileStore is a [Store] backed by a YAML file. Edits made to the file by other
// processes are picked up by a polling [Watcher].
type FileStore struct {
	path    string
	watcher *Watcher
	changes chan struct{}

	mu      sync.Mutex
	current UserConfig
}

var _ Store = (*FileStore)(nil)

// OpenFileStore opens the preferences file at path, creating it with
// [DefaultUserConfig] when it does not exist, and starts watching it.
func OpenFileStore(path string, opts ...WatcherOption) (*FileStore, error) {
	u, err := LoadUserConfig(path)
	if errors.Is(err, ErrNoUserConfig) {
		u = DefaultUserConfig()
		if werr := WriteUserConfig(path, u); werr != nil {
			return nil, werr
		}
		slog.Info("config: created user config with defaults", "path", path)
	} else if err != nil {
		return nil, err
	}

	s := &FileStore{
		path:    path,
		changes: make(chan struct{}, 1),
		current: u,
	}
	w, err := NewWatcher(path, s.onFileChange, opts...)
	if err != nil {
		return nil, err
	}
	s.watcher = w
	return s, nil
}

// Load implements [Store].
func (s *FileStore) Load() (UserConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

// Save implements [Store]. The file is replaced atomically.
func (s *FileStore) Save(u UserConfig) error {
	u = u.Clamp()
	s.mu.Lock()
	if err := WriteUserConfig(s.path, u); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("config: save: %w", err)
	}
	s.current = u
	if err := s.watcher.Resync(); err != nil {
		slog.Warn("config: user config changed during save", "path", s.path, "err", err)
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Changes implements [Store].
func (s *FileStore) Changes() <-chan struct{} { return s.changes }

// Close stops watching the file.
func (s *FileStore) Close() error {
	s.watcher.Stop()
	return nil
}

func (s *FileStore) onFileChange(_, u UserConfig) {
	s.mu.Lock()
	changed := u != s.current
	s.current = u
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *FileStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// MemStore is an in-memory [Store]. It is used when preferences should not
// be persisted and in tests.
type MemStore struct {
	changes chan struct{}

	mu      sync.Mutex
	current UserConfig
	saves   int
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a store holding u (clamped).
func NewMemStore(u UserConfig) *MemStore {
	return &MemStore{changes: make(chan struct{}, 1), current: u.Clamp()}
}

// Load implements [Store].
func (s *MemStore) Load() (UserConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

// Save implements [Store].
func (s *MemStore) Save(u UserConfig) error {
	s.mu.Lock()
	s.current = u.Clamp()
	s.saves++
	s.mu.Unlock()
	select {
	case s.changes <- struct{}{}:
	default:
	}
	return nil
}

// Changes implements [Store].
func (s *MemStore) Changes() <-chan struct{} { return s.changes }

// Saves returns how many times Save was called.
func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
