// Package skills loads markdown skill packs and matches them to tasks.
//
// A skill pack is a directory holding a SKILL.md with YAML frontmatter
// (name, version, description, category, applicability, tags) plus
// optional EXAMPLES.md and PROMPT.md companions. Applicable skills are
// injected into agent prompts during spec writing and build phases.
package skills

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Category classifies what domain a skill covers.
type Category string

const (
	CategoryFrontend      Category = "frontend"
	CategoryBackend       Category = "backend"
	CategoryDatabase      Category = "database"
	CategoryDevOps        Category = "devops"
	CategoryTesting       Category = "testing"
	CategorySecurity      Category = "security"
	CategoryDocumentation Category = "documentation"
	CategoryDesign        Category = "design"
)

// Applicability controls when a skill is injected automatically.
type Applicability string

const (
	// Always applies the skill to every task.
	Always Applicability = "always"
	// FrontendTasks applies when the task wording or file extensions
	// indicate presentation work.
	FrontendTasks Applicability = "frontend_tasks"
	// BackendTasks is declared by packs but never auto-matched.
	BackendTasks Applicability = "backend_tasks"
	// UIComponents applies when the task names a specific widget.
	UIComponents Applicability = "ui_components"
	// APIDesign is declared by packs but never auto-matched.
	APIDesign Applicability = "api_design"
	// OnDemand skills are only used when requested by name.
	OnDemand Applicability = "on_demand"
)

// Metadata describes a skill pack. It is parsed from SKILL.md
// frontmatter and emitted into skills.json for generated specs.
type Metadata struct {
	Name          string        `json:"name" yaml:"name"`
	Version       string        `json:"version" yaml:"version"`
	Description   string        `json:"description" yaml:"description"`
	Category      Category      `json:"category" yaml:"category"`
	Applicability Applicability `json:"applicability" yaml:"applicability"`
	Tags          []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Skill is a fully loaded skill pack.
type Skill struct {
	Metadata Metadata
	// Content is the SKILL.md body after the frontmatter.
	Content string
	// Examples is the EXAMPLES.md content, empty when absent.
	Examples string
	// Prompt is the PROMPT.md content injected into agent prompts,
	// empty when absent.
	Prompt string
	// Path is the skill pack directory.
	Path string
}

// ContextSummary returns a one-line summary for context windows.
func (s *Skill) ContextSummary() string {
	return fmt.Sprintf("[Skill: %s] %s", s.Metadata.Name, s.Metadata.Description)
}

// frontendKeywords flag tasks that touch presentation code.
var frontendKeywords = []string{
	"frontend", "ui", "component", "react", "vue", "angular",
	"css", "style", "tailwind", "button", "form", "modal",
	"layout", "responsive", "design", "interface",
}

// frontendExtensions mark a frontend task regardless of wording.
var frontendExtensions = map[string]bool{
	".tsx":    true,
	".jsx":    true,
	".vue":    true,
	".svelte": true,
	".css":    true,
	".scss":   true,
	".html":   true,
}

// uiComponentKeywords flag tasks centered on a specific widget.
var uiComponentKeywords = []string{
	"button", "card", "form", "input", "modal", "dialog",
	"navbar", "sidebar", "header", "footer", "table", "list",
	"dropdown", "menu", "tab", "accordion", "tooltip",
}

// MatchesTask reports whether this skill should be applied to a task,
// based on the declared applicability, the task wording, and the file
// paths the task is expected to touch.
func (s *Skill) MatchesTask(task string, filePaths []string) bool {
	switch s.Metadata.Applicability {
	case Always:
		return true

	case FrontendTasks:
		taskLower := strings.ToLower(task)
		for _, kw := range frontendKeywords {
			if strings.Contains(taskLower, kw) {
				return true
			}
		}
		for _, p := range filePaths {
			if frontendExtensions[strings.ToLower(filepath.Ext(p))] {
				return true
			}
		}
		return false

	case UIComponents:
		taskLower := strings.ToLower(task)
		for _, kw := range uiComponentKeywords {
			if strings.Contains(taskLower, kw) {
				return true
			}
		}
		return false

	default:
		// backend_tasks, api_design and on_demand packs are pulled in
		// explicitly, never by matching.
		return false
	}
}
