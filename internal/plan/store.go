package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/specforge/specforge/internal/logging"
	"github.com/specforge/specforge/internal/qa"
)

// PlanFile is the implementation plan document inside a spec directory.
const PlanFile = "implementation_plan.json"

const signoffKey = "qa_signoff"

// Store reads and writes one spec directory's implementation plan. The QA
// signoff lives inside the same document, so every write goes through a
// read-merge-write cycle that preserves keys the writer does not own.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates a store for the given spec directory. The directory is
// created lazily on first write.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithComponent(s.logger, "plan")
	return s
}

var _ qa.SignoffStore = (*Store)(nil)

// Path returns the plan file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, PlanFile)
}

// SavePlan writes the plan with a progress snapshot, keeping the recorded
// QA signoff and any foreign keys intact.
func (s *Store) SavePlan(p *ExecutionPlan) error {
	encoded, err := json.Marshal(struct {
		*ExecutionPlan
		Progress Progress `json:"progress"`
	}{p, p.Progress()})
	if err != nil {
		return fmt.Errorf("encoding implementation plan: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return fmt.Errorf("encoding implementation plan: %w", err)
	}

	doc := s.readDoc()
	for k, v := range fields {
		doc[k] = v
	}
	return s.writeDoc(doc)
}

// Plan loads the stored plan. Missing and unreadable files both return nil:
// the planner recreates the plan, and the next save rewrites the document.
func (s *Store) Plan() (*ExecutionPlan, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading implementation plan: %w", err)
	}

	var p ExecutionPlan
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("ignoring corrupt implementation plan", "path", s.Path(), "error", err)
		return nil, nil
	}
	return &p, nil
}

// Signoff returns the stored QA signoff, or nil when none is recorded.
// Missing fields get the historical defaults.
func (s *Store) Signoff() (*qa.Signoff, error) {
	raw, ok := s.readDoc()[signoffKey]
	if !ok {
		return nil, nil
	}

	var so qa.Signoff
	if err := json.Unmarshal(raw, &so); err != nil {
		return nil, fmt.Errorf("parsing qa signoff: %w", err)
	}
	if so.Status == "" {
		so.Status = qa.StatusPending
	}
	if so.VerifiedBy == "" {
		so.VerifiedBy = qa.DefaultVerifiedBy
	}
	return &so, nil
}

// SaveSignoff records the signoff without touching the rest of the plan.
func (s *Store) SaveSignoff(so *qa.Signoff) error {
	raw, err := json.Marshal(so)
	if err != nil {
		return fmt.Errorf("encoding qa signoff: %w", err)
	}

	doc := s.readDoc()
	doc[signoffKey] = raw
	return s.writeDoc(doc)
}

// readDoc loads the raw document. Unreadable or corrupt files degrade to an
// empty document so a damaged plan never wedges the QA loop.
func (s *Store) readDoc() map[string]json.RawMessage {
	doc := make(map[string]json.RawMessage)

	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return doc
	}
	if err != nil {
		s.logger.Warn("failed to read implementation plan", "path", s.Path(), "error", err)
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("ignoring corrupt implementation plan", "path", s.Path(), "error", err)
		return map[string]json.RawMessage{}
	}
	return doc
}

func (s *Store) writeDoc(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding implementation plan: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating spec directory: %w", err)
	}

	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing implementation plan: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing implementation plan: %w", err)
	}
	return nil
}
