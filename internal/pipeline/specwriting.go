package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/skills"
)

// skillsManifest is the skills.json artifact: the skills that will be
// injected into agent prompts during the build phase.
type skillsManifest struct {
	ApplicableSkills []skills.Metadata `json:"applicable_skills"`
	TaskDescription  string            `json:"task_description"`
}

func saveSkillsManifest(specDir string, active []*skills.Skill, task string) error {
	manifest := skillsManifest{TaskDescription: task}
	for _, s := range active {
		manifest.ApplicableSkills = append(manifest.ApplicableSkills, s.Metadata)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding skills manifest: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(specDir, SkillsFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing skills manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("replacing skills manifest: %w", err)
	}
	return nil
}

// renderSpec builds the specification document from everything the pipeline
// has gathered so far. Sections whose artifact was never produced are
// omitted.
func renderSpec(st *State, now time.Time) string {
	var lines []string
	add := func(s string) { lines = append(lines, s) }

	add(fmt.Sprintf("# Specification: %s", GenerateSpecName(st.Task)))
	add("")
	add(fmt.Sprintf("*Generated: %s*", now.Format(time.RFC3339)))
	add("")

	add("## Overview")
	add("")
	if st.Task != "" {
		add(st.Task)
	} else {
		add("No task description provided.")
	}
	add("")

	if req := st.Requirements; req != nil {
		add("## Requirements")
		add("")
		add(fmt.Sprintf("**Workflow Type**: %s", req.WorkflowType))
		add("")

		if len(req.UserRequirements) > 0 {
			add("### User Requirements")
			for _, r := range req.UserRequirements {
				add("- " + r)
			}
			add("")
		}
		if len(req.AcceptanceCriteria) > 0 {
			add("### Acceptance Criteria")
			for _, c := range req.AcceptanceCriteria {
				add("- [ ] " + c)
			}
			add("")
		}
		if len(req.Constraints) > 0 {
			add("### Constraints")
			for _, c := range req.Constraints {
				add("- " + c)
			}
			add("")
		}
	}

	if a := st.Assessment; a != nil {
		add("## Complexity Assessment")
		add("")
		add(fmt.Sprintf("**Level**: %s", strings.ToUpper(string(a.Complexity))))
		add(fmt.Sprintf("**Confidence**: %.0f%%", a.Confidence*100))
		add(fmt.Sprintf("**Reasoning**: %s", a.Reasoning))
		add("")
		add(fmt.Sprintf("**Estimated Files**: %d", a.EstimatedFiles))
		add(fmt.Sprintf("**Estimated Services**: %d", a.EstimatedServices))
		add("")
	}

	if c := st.Context; c != nil {
		add("## Context")
		add("")

		if len(c.FilesToModify) > 0 {
			add("### Files to Modify")
			for _, f := range capFiles(c.FilesToModify, 15) {
				if f.ModificationReason != "" {
					add(fmt.Sprintf("- `%s` - %s", f.RelativePath, f.ModificationReason))
				} else {
					add(fmt.Sprintf("- `%s`", f.RelativePath))
				}
			}
			add("")
		}
		if len(c.FilesToReference) > 0 {
			add("### Reference Files")
			for _, f := range capFiles(c.FilesToReference, 10) {
				add(fmt.Sprintf("- `%s`", f.RelativePath))
			}
			add("")
		}
		if len(c.RelatedTests) > 0 {
			add("### Related Tests")
			for _, t := range capStrings(c.RelatedTests, 10) {
				add(fmt.Sprintf("- `%s`", t))
			}
			add("")
		}
	}

	if imp := st.Impact; imp != nil {
		add("## Impact Analysis (God Mode)")
		add("")
		add(fmt.Sprintf("**Severity**: %s", strings.ToUpper(string(imp.Severity))))
		add(fmt.Sprintf("**Rollback Complexity**: %s", imp.RollbackComplexity))
		add("")

		if len(imp.AffectedServices) > 0 {
			add(fmt.Sprintf("**Affected Services**: %s", strings.Join(imp.AffectedServices, ", ")))
			add("")
		}
		if len(imp.BreakingChanges) > 0 {
			add("### Breaking Changes")
			changes := imp.BreakingChanges
			if len(changes) > 10 {
				changes = changes[:10]
			}
			for _, bc := range changes {
				add(fmt.Sprintf("- **%s** at `%s`: %s", bc.ChangeType, bc.Location, bc.Description))
			}
			add("")
		}
		if len(imp.TestCoverageGaps) > 0 {
			add("### Test Coverage Gaps")
			for _, gap := range capStrings(imp.TestCoverageGaps, 10) {
				add(fmt.Sprintf("- `%s`", gap))
			}
			add("")
		}
		if len(imp.RecommendedMitigations) > 0 {
			add("### Recommended Mitigations")
			for _, m := range imp.RecommendedMitigations {
				add("- " + m)
			}
			add("")
		}
	}

	if len(st.Skills) > 0 {
		add("## Active Skills")
		add("")
		add("The following skills are automatically applied for this task:")
		add("")
		for _, s := range st.Skills {
			add(fmt.Sprintf("- **%s**: %s", s.Metadata.Name, s.Metadata.Description))
			if len(s.Metadata.Tags) > 0 {
				add(fmt.Sprintf("  - Tags: %s", strings.Join(s.Metadata.Tags, ", ")))
			}
		}
		add("")
		add("*Skill protocols will be injected into agent prompts during build phase.*")
		add("")
	}

	add("## Implementation Plan")
	add("")
	add("*To be generated during planning phase*")
	add("")

	add("## QA Criteria")
	add("")
	add("*To be defined based on acceptance criteria*")
	add("")

	return strings.Join(lines, "\n")
}

func capFiles(files []FileContext, n int) []FileContext {
	if len(files) > n {
		return files[:n]
	}
	return files
}

func capStrings(ss []string, n int) []string {
	if len(ss) > n {
		return ss[:n]
	}
	return ss
}
