// Package index provides the shared project-index cache: an in-memory,
// lock-guarded JSON document cache keyed by file path, backed by atomically
// written files. Entries expire after a TTL and are dropped early when the
// backing file changes on disk, so concurrent sessions reuse one discovery
// result without ever serving another process's stale data.
package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/specforge/specforge/internal/logging"
)

// DefaultTTL bounds how long an in-memory entry is served without re-reading
// the backing file.
const DefaultTTL = 300 * time.Second

type entry struct {
	payload  []byte
	storedAt time.Time
}

// Cache is a TTL cache of JSON documents keyed by their backing file path.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	watched map[string]bool
	closed  bool

	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the per-entry time to live.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithClock sets the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache and starts its invalidation watcher.
func New(opts ...Option) (*Cache, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	c := &Cache{
		entries: make(map[string]entry),
		watched: make(map[string]bool),
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  logging.Discard(),
		watcher: watcher,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = logging.WithComponent(c.logger, "index")
	go c.watchLoop()
	return c, nil
}

// Get unmarshals the cached document for path into dest. Returns false when
// the entry is missing or older than the TTL; the caller recomputes on miss.
func (c *Cache) Get(path string, dest any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[path]
	if !ok {
		return false
	}
	if c.now().Sub(ent.storedAt) >= c.ttl {
		delete(c.entries, path)
		return false
	}
	if err := json.Unmarshal(ent.payload, dest); err != nil {
		delete(c.entries, path)
		return false
	}
	return true
}

// Write marshals value, writes it atomically to path (temp file + rename),
// and caches it.
func (c *Cache) Write(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", filepath.Base(path), err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("renaming temp file: %w", err)
	}

	c.store(path, data)
	return nil
}

// Read loads the document at path from disk into dest and caches it.
// A missing file is reported with an error wrapping os.ErrNotExist.
func (c *Cache) Read(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	c.store(path, data)
	return nil
}

// Invalidate drops the entry for path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Close stops the invalidation watcher. The cache keeps serving entries
// afterwards, bounded by the TTL only.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.watcher.Close()
}

// store records the entry and watches its parent directory. Watching the
// directory instead of the file survives the rename writes the cache itself
// performs.
func (c *Cache) store(path string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[path] = entry{payload: payload, storedAt: c.now()}

	if c.closed {
		return
	}
	dir := filepath.Dir(path)
	if c.watched[dir] {
		return
	}
	if err := c.watcher.Add(dir); err != nil {
		c.logger.Warn("watching index directory failed", "dir", dir, "error", err)
		return
	}
	c.watched[dir] = true
}

func (c *Cache) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				c.handleChange(event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("index watcher error", "error", err)
		}
	}
}

// handleChange drops the entry for a changed path unless the change is the
// cache's own write: the backing file's mtime predates storedAt in that case
// because Rename preserves the temp file's timestamp.
func (c *Cache) handleChange(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[path]
	if !ok {
		return
	}
	if info, err := os.Stat(path); err == nil && !info.ModTime().After(ent.storedAt) {
		return
	}
	delete(c.entries, path)
	c.logger.Debug("index entry invalidated", "path", path)
}
