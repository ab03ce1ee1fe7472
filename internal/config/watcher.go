package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileState identifies one revision of the preferences file.
type fileState struct {
	mtime time.Time
	size  int64
	hash  [sha256.Size]byte
}

// Watcher polls a user preferences file and reports content changes. Only
// files that decode successfully replace the current value.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new UserConfig)

	mu      sync.Mutex
	current UserConfig
	state   fileState
	// badHash is the content hash of the last file that failed to decode, so
	// a broken file is reported once rather than on every poll.
	badHash [sha256.Size]byte

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 1 second.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange, when non-nil, is
// called from the polling goroutine after every content change.
func NewWatcher(path string, onChange func(old, new UserConfig), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: time.Second,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	u, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.state = u, st

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid preferences.
func (w *Watcher) Current() UserConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Resync adopts the file's present content without calling onChange. The
// owner of the file calls it after writing so its own edit is not reported
// back as an external one.
func (w *Watcher) Resync() error {
	u, st, err := w.read()
	if err != nil {
		return fmt.Errorf("config: watcher resync: %w", err)
	}
	w.mu.Lock()
	w.current, w.state = u, st
	w.mu.Unlock()
	return nil
}

// Stop ends polling and waits for an in-flight check to finish. No callback
// runs after Stop returns.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat user config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.state.mtime) && info.Size() == w.state.size
	w.mu.Unlock()
	if unchanged {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config: cannot read user config", "path", w.path, "err", err)
		return
	}
	st := fileState{mtime: info.ModTime(), size: info.Size(), hash: sha256.Sum256(data)}

	w.mu.Lock()
	if st.hash == w.state.hash {
		// Touched, not edited.
		w.state = st
		w.mu.Unlock()
		return
	}
	u, err := DecodeUserConfig(bytes.NewReader(data))
	if err != nil {
		first := st.hash != w.badHash
		w.badHash = st.hash
		w.mu.Unlock()
		if first {
			slog.Warn("config: ignoring invalid user config edit", "path", w.path, "err", err)
		}
		return
	}
	old := w.current
	w.current, w.state = u, st
	w.mu.Unlock()

	slog.Debug("config: user config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, u)
	}
}

// read loads and decodes the file and describes the revision it read.
func (w *Watcher) read() (UserConfig, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return UserConfig{}, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return UserConfig{}, fileState{}, err
	}
	u, err := DecodeUserConfig(bytes.NewReader(data))
	if err != nil {
		return UserConfig{}, fileState{}, err
	}
	return u, fileState{mtime: info.ModTime(), size: info.Size(), hash: sha256.Sum256(data)}, nil
}
