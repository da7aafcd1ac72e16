package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSkillPack creates a skill directory with the given SKILL.md and
// optional companion files.
func writeSkillPack(t *testing.T, root, name, skillMD string, companions map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(skillMD), 0o644))
	for fname, content := range companions {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fname), []byte(content), 0o644))
	}
}

const frontendSkillMD = `---
name: frontend-design
version: 2.1.0
description: Design-system conventions for React components
category: frontend
applicability: frontend_tasks
tags: [react, css, design-system]
---
# Frontend Design

Follow the design tokens.
`

func TestLoaderDiscover(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	writeSkillPack(t, root, "frontend-design", frontendSkillMD, nil)
	writeSkillPack(t, root, "api-conventions", "# API Conventions\n", nil)
	writeSkillPack(t, root, "_shared", "# Internal\n", nil)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no-skill-file"), 0o755))

	names, err := NewLoader(root).Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{"api-conventions", "frontend-design"}, names)
}

func TestLoaderDiscover_MissingRoot(t *testing.T) {
	t.Parallel()
	names, err := NewLoader(filepath.Join(t.TempDir(), "absent")).Discover()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLoaderLoad(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSkillPack(t, root, "frontend-design", frontendSkillMD, map[string]string{
		"EXAMPLES.md": "## Example\nbutton variants\n",
		"PROMPT.md":   "Use semantic HTML.\n",
	})

	skill, err := NewLoader(root).Load("frontend-design")
	require.NoError(t, err)

	assert.Equal(t, Metadata{
		Name:          "frontend-design",
		Version:       "2.1.0",
		Description:   "Design-system conventions for React components",
		Category:      CategoryFrontend,
		Applicability: FrontendTasks,
		Tags:          []string{"react", "css", "design-system"},
	}, skill.Metadata)

	assert.Contains(t, skill.Content, "# Frontend Design")
	assert.NotContains(t, skill.Content, "applicability:", "frontmatter should be stripped from the body")
	assert.Contains(t, skill.Examples, "button variants")
	assert.Equal(t, "Use semantic HTML.\n", skill.Prompt)
	assert.Equal(t, filepath.Join(root, "frontend-design"), skill.Path)
}

func TestLoaderLoad_NoFrontmatter(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSkillPack(t, root, "plain", "# Plain Skill\n\nBody text.\n", nil)

	skill, err := NewLoader(root).Load("plain")
	require.NoError(t, err)

	assert.Equal(t, "plain", skill.Metadata.Name)
	assert.Equal(t, "1.0.0", skill.Metadata.Version)
	assert.Equal(t, "Plain Skill", skill.Metadata.Description, "first heading becomes the description")
	assert.Equal(t, CategoryDesign, skill.Metadata.Category)
	assert.Equal(t, OnDemand, skill.Metadata.Applicability)
	assert.Empty(t, skill.Examples)
	assert.Empty(t, skill.Prompt)
}

func TestLoaderLoad_Missing(t *testing.T) {
	t.Parallel()
	_, err := NewLoader(t.TempDir()).Load("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skill nope")
}

func TestLoaderLoad_BadFrontmatter(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSkillPack(t, root, "broken", "---\nname: [unclosed\n---\n# Broken\n", nil)

	_, err := NewLoader(root).Load("broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frontmatter")
}

func TestSplitFrontmatter(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content         string
		wantFrontmatter string
		wantBody        string
	}{
		"with frontmatter": {
			content:         "---\nname: x\n---\nbody",
			wantFrontmatter: "name: x",
			wantBody:        "body",
		},
		"no frontmatter": {
			content:         "# Heading\nbody",
			wantFrontmatter: "",
			wantBody:        "# Heading\nbody",
		},
		"unterminated frontmatter": {
			content:         "---\nname: x\nbody",
			wantFrontmatter: "",
			wantBody:        "---\nname: x\nbody",
		},
		"empty": {
			content:         "",
			wantFrontmatter: "",
			wantBody:        "",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			frontmatter, body := splitFrontmatter(tt.content)
			assert.Equal(t, tt.wantFrontmatter, frontmatter)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}
