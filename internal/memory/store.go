// Package memory persists learnings gathered while working on a spec:
// reusable patterns and gotchas, stored as JSON files and queried by
// keyword relevance when assembling context for later tasks.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/logging"
)

const (
	patternsFile = "patterns.json"
	gotchasFile  = "gotchas.json"

	// RelevanceThreshold is the minimum keyword-overlap score for a
	// record to surface as an insight.
	RelevanceThreshold = 0.3
)

// Record is a single learned pattern or gotcha.
type Record struct {
	// Description is the learning itself, matched against task keywords.
	Description string `json:"description"`
	// Detail carries optional supporting context (file, command, trace).
	Detail string `json:"detail,omitempty"`
	// Tags classify the record for browsing.
	Tags []string `json:"tags,omitempty"`
	// CreatedAt is when the record was stored.
	CreatedAt time.Time `json:"created_at"`
}

// Insight is a relevance-scored record surfaced for a task.
type Insight struct {
	// Type is "pattern" or "gotcha".
	Type string `json:"insight_type"`
	// Content is the record description.
	Content string `json:"content"`
	// Source identifies the memory layer; this store reports "file-based".
	Source string `json:"source"`
	// Relevance is the keyword-overlap score in [0, 1].
	Relevance float64 `json:"relevance_score"`
	// CreatedAt is when the underlying record was stored.
	CreatedAt time.Time `json:"created_at"`
}

// patternsDoc is the on-disk shape of patterns.json.
type patternsDoc struct {
	Patterns []Record `json:"patterns"`
}

// gotchasDoc is the on-disk shape of gotchas.json.
type gotchasDoc struct {
	Gotchas []Record `json:"gotchas"`
}

// Store reads and writes the memory files under a single directory,
// conventionally <spec-dir>/memory.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Nil keeps the discard default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source for record stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store rooted at dir. The directory is created
// lazily on the first write.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir: dir,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithComponent(s.logger, "memory")
	return s
}

// Dir returns the directory the store reads from and writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Patterns returns all stored patterns. A missing file yields an empty
// result and no error.
func (s *Store) Patterns() ([]Record, error) {
	var doc patternsDoc
	if err := s.readDoc(patternsFile, &doc); err != nil {
		return nil, err
	}
	return doc.Patterns, nil
}

// Gotchas returns all stored gotchas. A missing file yields an empty
// result and no error.
func (s *Store) Gotchas() ([]Record, error) {
	var doc gotchasDoc
	if err := s.readDoc(gotchasFile, &doc); err != nil {
		return nil, err
	}
	return doc.Gotchas, nil
}

// AddPattern appends a pattern record. A zero CreatedAt is stamped with
// the store clock.
func (s *Store) AddPattern(rec Record) error {
	patterns, err := s.Patterns()
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	doc := patternsDoc{Patterns: append(patterns, rec)}
	return s.writeDoc(patternsFile, doc)
}

// AddGotcha appends a gotcha record. A zero CreatedAt is stamped with
// the store clock.
func (s *Store) AddGotcha(rec Record) error {
	gotchas, err := s.Gotchas()
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	doc := gotchasDoc{Gotchas: append(gotchas, rec)}
	return s.writeDoc(gotchasFile, doc)
}

// Insights returns records relevant to the given keywords, scored by
// overlap and sorted by descending relevance. Records scoring at or
// below RelevanceThreshold are dropped. Unreadable memory files are
// skipped with a log entry rather than failing the query.
func (s *Store) Insights(keywords []string) []Insight {
	var insights []Insight

	patterns, err := s.Patterns()
	if err != nil {
		s.logger.Debug("skipping patterns file", "error", err)
	}
	for _, rec := range patterns {
		if ins, ok := s.scoreRecord("pattern", rec, keywords); ok {
			insights = append(insights, ins)
		}
	}

	gotchas, err := s.Gotchas()
	if err != nil {
		s.logger.Debug("skipping gotchas file", "error", err)
	}
	for _, rec := range gotchas {
		if ins, ok := s.scoreRecord("gotcha", rec, keywords); ok {
			insights = append(insights, ins)
		}
	}

	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].Relevance > insights[j].Relevance
	})

	return insights
}

// scoreRecord converts a record to an insight when it clears the
// relevance threshold.
func (s *Store) scoreRecord(insightType string, rec Record, keywords []string) (Insight, bool) {
	relevance := Relevance(rec.Description, keywords)
	if relevance <= RelevanceThreshold {
		return Insight{}, false
	}
	return Insight{
		Type:      insightType,
		Content:   rec.Description,
		Source:    "file-based",
		Relevance: relevance,
		CreatedAt: rec.CreatedAt,
	}, true
}

// Relevance scores content against keywords as the fraction of keywords
// the content mentions, capped at 1.0. Matching is case-insensitive.
func Relevance(content string, keywords []string) float64 {
	if content == "" || len(keywords) == 0 {
		return 0
	}
	contentLower := strings.ToLower(content)
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(contentLower, strings.ToLower(kw)) {
			matches++
		}
	}
	score := float64(matches) / float64(len(keywords))
	if score > 1 {
		return 1
	}
	return score
}

// readDoc loads a JSON document from the store directory. Missing files
// leave dest untouched.
func (s *Store) readDoc(name string, dest any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// writeDoc writes a JSON document atomically via temp file + rename.
func (s *Store) writeDoc(name string, doc any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating memory directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	data = append(data, '\n')

	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp memory file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("renaming temp memory file: %w", err)
	}

	return nil
}
