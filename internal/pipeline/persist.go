package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SaveProjectIndex writes project_index.json into dir atomically.
func SaveProjectIndex(dir string, idx *ProjectIndex) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling project index: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, ProjectIndexFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing project index: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("renaming project index: %w", err)
	}
	return nil
}

// LoadProjectIndex reads project_index.json from dir. A missing file is not
// an error; it returns (nil, nil).
func LoadProjectIndex(dir string) (*ProjectIndex, error) {
	data, err := os.ReadFile(filepath.Join(dir, ProjectIndexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading project index: %w", err)
	}

	var idx ProjectIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing project index: %w", err)
	}
	return &idx, nil
}

// SaveRequirements writes requirements.json into dir atomically.
func SaveRequirements(dir string, req *Requirements) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling requirements: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, RequirementsFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing requirements: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("renaming requirements: %w", err)
	}
	return nil
}

// LoadRequirements reads requirements.json from dir. A missing file is not
// an error; it returns (nil, nil).
func LoadRequirements(dir string) (*Requirements, error) {
	data, err := os.ReadFile(filepath.Join(dir, RequirementsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading requirements: %w", err)
	}

	var req Requirements
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing requirements: %w", err)
	}
	return &req, nil
}

// assessmentDoc is the on-disk shape of complexity_assessment.json. The
// phases_to_run key persists the computed phase plan so a reload replays
// exactly the phases chosen at assessment time, even if tier defaults
// change later.
type assessmentDoc struct {
	ComplexityAssessment
	PhasesToRun []string  `json:"phases_to_run"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaveAssessment writes complexity_assessment.json into dir atomically.
func SaveAssessment(dir string, a *ComplexityAssessment) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	doc := assessmentDoc{
		ComplexityAssessment: *a,
		PhasesToRun:          a.PhasesToRun(),
		CreatedAt:            time.Now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling assessment: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, AssessmentFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing assessment: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("renaming assessment: %w", err)
	}
	return nil
}

// LoadAssessment reads complexity_assessment.json from dir. The persisted
// phase plan becomes the assessment's recommended phases. A missing file is
// not an error; it returns (nil, nil).
func LoadAssessment(dir string) (*ComplexityAssessment, error) {
	data, err := os.ReadFile(filepath.Join(dir, AssessmentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading assessment: %w", err)
	}

	var doc assessmentDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing assessment: %w", err)
	}

	a := doc.ComplexityAssessment
	a.RecommendedPhases = doc.PhasesToRun
	return &a, nil
}

// SaveContext writes context.json into dir atomically.
func SaveContext(dir string, ctxw *ContextWindow) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	data, err := json.MarshalIndent(ctxw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, ContextFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing context: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("renaming context: %w", err)
	}
	return nil
}

// LoadContext reads context.json from dir. A missing file is not an error;
// it returns (nil, nil).
func LoadContext(dir string) (*ContextWindow, error) {
	data, err := os.ReadFile(filepath.Join(dir, ContextFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading context: %w", err)
	}

	var ctxw ContextWindow
	if err := json.Unmarshal(data, &ctxw); err != nil {
		return nil, fmt.Errorf("parsing context: %w", err)
	}
	return &ctxw, nil
}

// SaveImpact writes impact_analysis.json into dir atomically.
func SaveImpact(dir string, ia *ImpactAnalysis) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	data, err := json.MarshalIndent(ia, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling impact analysis: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, ImpactFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing impact analysis: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("renaming impact analysis: %w", err)
	}
	return nil
}

// LoadImpact reads impact_analysis.json from dir. A missing file is not an
// error; it returns (nil, nil).
func LoadImpact(dir string) (*ImpactAnalysis, error) {
	data, err := os.ReadFile(filepath.Join(dir, ImpactFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading impact analysis: %w", err)
	}

	var ia ImpactAnalysis
	if err := json.Unmarshal(data, &ia); err != nil {
		return nil, fmt.Errorf("parsing impact analysis: %w", err)
	}
	return &ia, nil
}
