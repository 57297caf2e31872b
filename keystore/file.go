package keystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// keyFile is the on-disk YAML document holding key records.
type keyFile struct {
	Keys []SeedKey `yaml:"keys"`
}

// FileStore serves key records from a YAML file and reloads it when the
// file changes. A reload that fails to parse or validate keeps the
// previously loaded records.
type FileStore struct {
	path          string
	hasher        Hasher
	watcher       *fsnotify.Watcher
	errorCallback func(error)
	logger        *zap.Logger
	debounceDelay time.Duration

	mu      sync.RWMutex
	current *MemoryStore

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// FileStoreOption is a functional option for the file store.
type FileStoreOption func(*FileStore)

// WithFileLogger sets the logger for the file store.
func WithFileLogger(logger *zap.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// WithFileDebounce sets the debounce delay for file change events.
func WithFileDebounce(delay time.Duration) FileStoreOption {
	return func(s *FileStore) {
		s.debounceDelay = delay
	}
}

// WithFileErrorCallback sets a callback invoked when a reload fails.
func WithFileErrorCallback(fn func(error)) FileStoreOption {
	return func(s *FileStore) {
		s.errorCallback = fn
	}
}

// NewFileStore creates a file store, loads the file once, and starts
// watching it for changes. Close releases the watcher.
func NewFileStore(path string, hasher Hasher, opts ...FileStoreOption) (*FileStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if hasher == nil {
		hasher = SHA256Hasher{}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &FileStore{
		path:          absPath,
		hasher:        hasher,
		watcher:       fsWatcher,
		logger:        zap.NewNop(),
		debounceDelay: 100 * time.Millisecond,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	store, err := s.load()
	if err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	s.current = store

	// Watch the directory rather than the file so renames and editor
	// save-via-replace still produce events.
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	s.logger.Info("started watching key file",
		zap.String("path", s.path),
	)

	go s.watch()

	return s, nil
}

// Get returns the record matching the raw key.
func (s *FileStore) Get(ctx context.Context, key string) (*Key, error) {
	s.mu.RLock()
	store := s.current
	s.mu.RUnlock()
	return store.Get(ctx, key)
}

// Count returns the number of loaded key records.
func (s *FileStore) Count() int {
	s.mu.RLock()
	store := s.current
	s.mu.RUnlock()
	return store.Count()
}

// Close stops watching and releases the watcher.
func (s *FileStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.stoppedCh
	})
	return s.watcher.Close()
}

// ForceReload reloads the key file immediately.
func (s *FileStore) ForceReload() error {
	store, err := s.load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = store
	s.mu.Unlock()

	return nil
}

// load reads and parses the key file into a fresh memory store.
func (s *FileStore) load() (*MemoryStore, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}

	store := NewMemoryStore(s.hasher)
	for i, seed := range kf.Keys {
		record, err := seed.toKey(s.hasher)
		if err != nil {
			return nil, fmt.Errorf("keys[%d]: %w", i, err)
		}
		if err := store.Put(context.Background(), record); err != nil {
			return nil, fmt.Errorf("keys[%d]: %w", i, err)
		}
	}
	return store, nil
}

// watch is the main watch loop.
func (s *FileStore) watch() {
	defer close(s.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-s.stopCh:
			s.logger.Info("key file watcher stopped")
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			debounceTimer, debounceCh = s.handleFileEvent(event, debounceTimer, debounceCh)

		case <-debounceCh:
			debounceCh = nil
			s.reload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.handleWatchError(err)
		}
	}
}

// handleFileEvent processes a file system event and returns the updated
// debounce timer.
func (s *FileStore) handleFileEvent(
	event fsnotify.Event,
	debounceTimer *time.Timer,
	debounceCh <-chan time.Time,
) (timer *time.Timer, ch <-chan time.Time) {
	// Only process events for our key file
	if filepath.Clean(event.Name) != s.path {
		return debounceTimer, debounceCh
	}

	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return debounceTimer, debounceCh
	}

	s.logger.Debug("key file changed",
		zap.String("path", event.Name),
		zap.String("op", event.Op.String()),
	)

	// Reset debounce timer
	if debounceTimer != nil {
		debounceTimer.Stop()
	}
	debounceTimer = time.NewTimer(s.debounceDelay)
	return debounceTimer, debounceTimer.C
}

// handleWatchError handles watcher errors.
func (s *FileStore) handleWatchError(err error) {
	s.logger.Error("key file watcher error", zap.Error(err))
	if s.errorCallback != nil {
		s.errorCallback(err)
	}
}

// reload attempts to reload the key file, keeping the current records
// when the reload fails.
func (s *FileStore) reload() {
	store, err := s.load()
	if err != nil {
		s.logger.Error("failed to reload key file", zap.Error(err))
		if s.errorCallback != nil {
			s.errorCallback(err)
		}
		return
	}

	s.mu.Lock()
	s.current = store
	s.mu.Unlock()

	s.logger.Info("key file reloaded",
		zap.String("path", s.path),
		zap.Int("keys", store.Count()),
	)
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)
