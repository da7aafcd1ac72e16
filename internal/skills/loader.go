package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	skillFile    = "SKILL.md"
	examplesFile = "EXAMPLES.md"
	promptFile   = "PROMPT.md"

	defaultVersion = "1.0.0"
)

// Loader reads skill packs from a directory tree. Each immediate
// subdirectory holding a SKILL.md is a pack; directories prefixed with
// an underscore are reserved and skipped.
type Loader struct {
	root string
}

// NewLoader creates a loader rooted at the given skills directory.
func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Root returns the skills directory.
func (l *Loader) Root() string {
	return l.root
}

// Discover lists the names of all available skill packs, sorted. A
// missing skills directory yields an empty result and no error.
func (l *Loader) Discover() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading skills directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.root, entry.Name(), skillFile)); err != nil {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Load reads a single skill pack by directory name.
func (l *Loader) Load(name string) (*Skill, error) {
	dir := filepath.Join(l.root, name)

	content, err := os.ReadFile(filepath.Join(dir, skillFile))
	if err != nil {
		return nil, fmt.Errorf("skill %s: reading %s: %w", name, skillFile, err)
	}

	meta, body, err := parseSkillDoc(name, string(content))
	if err != nil {
		return nil, fmt.Errorf("skill %s: %w", name, err)
	}

	return &Skill{
		Metadata: meta,
		Content:  body,
		Examples: readOptional(filepath.Join(dir, examplesFile)),
		Prompt:   readOptional(filepath.Join(dir, promptFile)),
		Path:     dir,
	}, nil
}

// parseSkillDoc splits a SKILL.md into metadata and body. Missing
// frontmatter falls back to defaults: the directory name, version
// 1.0.0, design/on_demand, and the first heading as description.
func parseSkillDoc(name, content string) (Metadata, string, error) {
	meta := Metadata{
		Name:          name,
		Version:       defaultVersion,
		Category:      CategoryDesign,
		Applicability: OnDemand,
	}

	frontmatter, body := splitFrontmatter(content)
	if frontmatter != "" {
		if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
			return Metadata{}, "", fmt.Errorf("parsing %s frontmatter: %w", skillFile, err)
		}
	}

	if meta.Name == "" {
		meta.Name = name
	}
	if meta.Version == "" {
		meta.Version = defaultVersion
	}
	if meta.Description == "" {
		meta.Description = firstHeading(body)
	}

	return meta, body, nil
}

// splitFrontmatter separates a leading YAML frontmatter block delimited
// by "---" lines from the markdown body. Content without frontmatter is
// returned whole as the body.
func splitFrontmatter(content string) (frontmatter, body string) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", content
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n")
		}
	}
	return "", content
}

// firstHeading returns the text of the first level-1 markdown heading.
func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if text, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

// readOptional returns a companion file's content, or empty when the
// file does not exist.
func readOptional(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
