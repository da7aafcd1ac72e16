package skills

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/specforge/specforge/internal/logging"
)

// Registry caches loaded skills and answers applicability queries.
// It is safe for concurrent use.
type Registry struct {
	loader *Loader
	logger *slog.Logger

	mu     sync.Mutex
	skills map[string]*Skill
	loaded bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Nil keeps the discard default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a registry backed by the given loader.
func NewRegistry(loader *Loader, opts ...Option) *Registry {
	r := &Registry{
		loader: loader,
		skills: make(map[string]*Skill),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithComponent(r.logger, "skills")
	return r
}

// LoadAll loads every discoverable skill pack once. Packs that fail to
// parse are logged and skipped; only a discovery failure is returned.
func (r *Registry) LoadAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadAllLocked()
}

func (r *Registry) loadAllLocked() error {
	if r.loaded {
		return nil
	}

	names, err := r.loader.Discover()
	if err != nil {
		return err
	}

	for _, name := range names {
		skill, err := r.loader.Load(name)
		if err != nil {
			r.logger.Warn("skipping unreadable skill", "skill", name, "error", err)
			continue
		}
		r.skills[name] = skill
		r.logger.Debug("loaded skill", "skill", name, "applicability", skill.Metadata.Applicability)
	}

	r.loaded = true
	return nil
}

// Get returns a skill by pack name, loading it lazily if the registry
// has not seen it yet.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if skill, ok := r.skills[name]; ok {
		return skill, true
	}

	skill, err := r.loader.Load(name)
	if err != nil {
		return nil, false
	}
	r.skills[name] = skill
	return skill, true
}

// Applicable returns the skills matching a task, ordered by name.
func (r *Registry) Applicable(task string, filePaths []string) ([]*Skill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadAllLocked(); err != nil {
		return nil, err
	}

	var applicable []*Skill
	for _, skill := range r.skills {
		if skill.MatchesTask(task, filePaths) {
			applicable = append(applicable, skill)
		}
	}

	sort.Slice(applicable, func(i, j int) bool {
		return applicable[i].Metadata.Name < applicable[j].Metadata.Name
	})
	return applicable, nil
}

// CombinedPrompt renders the prompt injection for all skills applicable
// to a task. Returns an empty string when nothing applies.
func (r *Registry) CombinedPrompt(task string, filePaths []string) (string, error) {
	applicable, err := r.Applicable(task, filePaths)
	if err != nil {
		return "", err
	}
	if len(applicable) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("# Active Skills Protocol\n\n")
	for _, skill := range applicable {
		if skill.Prompt == "" {
			continue
		}
		b.WriteString("## " + skill.Metadata.Name + "\n")
		b.WriteString(skill.Prompt)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// List returns metadata for every loaded skill, ordered by name.
func (r *Registry) List() ([]Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadAllLocked(); err != nil {
		return nil, err
	}

	metas := make([]Metadata, 0, len(r.skills))
	for _, skill := range r.skills {
		metas = append(metas, skill.Metadata)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas, nil
}
