package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/specforge/specforge/internal/logging"
)

// Store persists sessions as one JSON document per id under a sessions
// directory. Loaded sessions are cached and handed out by pointer, so the
// orchestrator's per-session locks are what keep concurrent mutation safe.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*Session
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger. Nil keeps the discard default.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a store writing to dir. The directory is created lazily
// on the first save.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{
		dir:   dir,
		cache: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithComponent(s.logger, "session")
	return s
}

// Dir returns the directory session files live in.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file a session id is stored at.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the session to disk atomically and refreshes the cache entry.
func (s *Store) Save(sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session has no id")
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating sessions directory: %w", err)
	}

	path := s.Path(sess.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing session %s: %w", sess.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing session %s: %w", sess.ID, err)
	}

	s.mu.Lock()
	s.cache[sess.ID] = sess
	s.mu.Unlock()
	return nil
}

// Load returns the stored session, the cached copy when one exists. Missing
// files return nil without error. Corrupt or structurally invalid documents
// are logged and also return nil: a record whose id or status cannot be
// trusted must not re-enter the lifecycle.
func (s *Store) Load(id string) (*Session, error) {
	s.mu.Lock()
	if sess, ok := s.cache[id]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("ignoring corrupt session file", "session_id", id, "error", err)
		return nil, nil
	}
	if sess.ID == "" || !sess.Status.IsValid() {
		s.logger.Warn("ignoring malformed session record",
			"session_id", id, "status", string(sess.Status))
		return nil, nil
	}

	s.mu.Lock()
	s.cache[id] = &sess
	s.mu.Unlock()
	return &sess, nil
}

// Delete removes the session file and cache entry. Deleting a session that
// does not exist is not an error.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return nil
}

// List returns all stored session ids in lexical order. A missing sessions
// directory yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Recent loads every stored session and returns the newest first, capped at
// limit when limit is positive. Unreadable records are skipped.
func (s *Store) Recent(limit int) ([]*Session, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}

	var sessions []*Session
	for _, id := range ids {
		sess, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			sessions = append(sessions, sess)
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
