// Package docstore is a JSON-file document store: named collections of
// schemaless documents with store-assigned ids, server timestamps, equality
// queries and live query listeners.
//
// A single file holds every collection. Writes take a cross-process file
// lock and replace the file atomically, so several processes may share one
// store; with watching enabled, their writes re-run this process's live
// queries.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/Makepad-fr/tada/internal/stream"
)

const (
	formatVersion = "1.0"
	lockWait      = 3 * time.Second
	lockRetry     = 50 * time.Millisecond
)

var (
	// ErrNotFound is returned by Update on a missing document.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidID is returned for an empty document id.
	ErrInvalidID = errors.New("invalid document id")
)

type fileData struct {
	Version     string                               `json:"version"`
	UpdatedAt   time.Time                            `json:"updated_at"`
	Collections map[string]map[string]map[string]any `json:"collections"`
}

func emptyData() *fileData {
	return &fileData{
		Version:     formatVersion,
		Collections: make(map[string]map[string]map[string]any),
	}
}

func (d *fileData) collection(name string) map[string]map[string]any {
	c, ok := d.Collections[name]
	if !ok {
		c = make(map[string]map[string]any)
		d.Collections[name] = c
	}
	return c
}

// Store is an open document store.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *log.Logger
	now    func() time.Time
	watch  bool

	mu  sync.Mutex
	mem *fileData

	rev     atomic.Uint64
	changes *stream.Hub[uint64]

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for watch diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithWatch enables watching the data file for writes by other processes.
func WithWatch(enabled bool) Option {
	return func(s *Store) { s.watch = enabled }
}

// WithClock overrides the clock used for ServerTimestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens the store backed by path, creating its directory if needed.
// An empty path gives a memory-only store.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:    path,
		logger:  log.New(io.Discard),
		now:     time.Now,
		changes: stream.NewHub[uint64](),
	}
	for _, opt := range opts {
		opt(s)
	}

	if path == "" {
		s.mem = emptyData()
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
		s.lock = flock.New(path + ".lock")
		if s.watch {
			if err := s.startWatch(); err != nil {
				return nil, err
			}
		}
	}

	s.changes.Publish(s.rev.Load())
	return s, nil
}

// Close stops the file watcher, if any.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

// Path returns the backing file, or "" for a memory-only store.
func (s *Store) Path() string { return s.path }

// Listeners reports the number of registered live query listeners.
func (s *Store) Listeners() int { return s.changes.Len() }

// Collection returns a reference to the named collection.
func (s *Store) Collection(name string) *CollectionRef {
	return &CollectionRef{store: s, name: name}
}

func (s *Store) notify() {
	s.changes.Publish(s.rev.Add(1))
}

func (s *Store) withFileLock(ctx context.Context, fn func() error) error {
	if s.lock == nil {
		return fn()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lockWait)
		defer cancel()
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire file lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *Store) load() (*fileData, error) {
	if s.mem != nil {
		return s.mem, nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptyData(), nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(b) == 0 {
		return emptyData(), nil
	}
	var d fileData
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	if d.Collections == nil {
		d.Collections = make(map[string]map[string]map[string]any)
	}
	return &d, nil
}

func (s *Store) save(d *fileData) error {
	d.UpdatedAt = s.now().UTC()
	if s.mem != nil {
		s.mem = d
		return nil
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, fn func(*fileData)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withFileLock(ctx, func() error {
		d, err := s.load()
		if err != nil {
			return err
		}
		fn(d)
		return nil
	})
}

// mutate applies fn under both locks and persists the result when fn
// reports a change. Listeners are notified after the locks are released.
func (s *Store) mutate(ctx context.Context, fn func(*fileData) (bool, error)) error {
	changed, err := func() (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var changed bool
		err := s.withFileLock(ctx, func() error {
			d, err := s.load()
			if err != nil {
				return err
			}
			if changed, err = fn(d); err != nil || !changed {
				return err
			}
			return s.save(d)
		})
		return changed, err
	}()
	if err != nil {
		return err
	}
	if changed {
		s.notify()
	}
	return nil
}
