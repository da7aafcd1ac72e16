package qa

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/specforge/specforge/internal/logging"
)

const (
	// FixRequestFile is written into a spec directory when fixes need a
	// human. Its presence is treated as pending feedback by the loop.
	FixRequestFile = "QA_FIX_REQUEST.md"

	// DefaultMinFixConfidence gates automatic fix application.
	DefaultMinFixConfidence = 0.7
)

// Strategy describes how a fix is meant to be applied.
type Strategy string

const (
	StrategyReplace  Strategy = "replace"
	StrategyInsert   Strategy = "insert"
	StrategyDelete   Strategy = "delete"
	StrategyRefactor Strategy = "refactor"
	StrategyManual   Strategy = "manual"
)

// Fix is one suggested correction for an issue.
type Fix struct {
	Issue       Issue
	Strategy    Strategy
	Description string
	FilePath    string
	// LineNumber is 1-based for replace/delete and an insertion index for
	// insert; zero means unknown.
	LineNumber   int
	OriginalCode string
	FixedCode    string
	// Confidence is 0-1; low-confidence fixes are never applied.
	Confidence float64
	Applied    bool
	Error      string
}

// FixResult summarizes one fixer pass.
type FixResult struct {
	Success bool
	Applied []Fix
	Failed  []Fix
	Skipped []Fix
	// ReadyForRevalidation is set when no critical fix failed, signalling
	// the loop to re-run review.
	ReadyForRevalidation bool
	Message              string
}

// Fixer turns review issues into corrections.
type Fixer interface {
	// Fix generates fixes for the issues, applying the eligible ones to the
	// tree when apply is true. Fixes that were not applied are written to
	// the fix request file for a human.
	Fix(ctx context.Context, issues []Issue, apply bool) (*FixResult, error)
}

type fixTemplate struct {
	strategy    Strategy
	description string
	// template may reference {var_name} and {exception}, filled from the
	// original line.
	template string
}

// fixTemplates maps issue keys (lowercased titles, spaces to underscores)
// to mechanical corrections. Unknown issues fall back to manual.
var fixTemplates = map[string]fixTemplate{
	"hardcoded_secrets": {
		strategy:    StrategyReplace,
		description: "Move secret to environment variable",
		template:    `os.environ.get("{var_name}", "")`,
	},
	"debug_statements": {
		strategy:    StrategyDelete,
		description: "Remove debug statement",
	},
	"empty_except": {
		strategy:    StrategyReplace,
		description: "Add proper exception handling",
		template:    "except {exception} as e:\n    logger.error(f'Error: {e}')",
	},
	"eval_usage": {
		strategy:    StrategyRefactor,
		description: "Replace eval with safer alternative",
	},
	"todo_comments": {
		strategy:    StrategyManual,
		description: "Review and resolve TODO comment",
	},
	"any_type": {
		strategy:    StrategyRefactor,
		description: "Replace 'any' with proper type",
	},
}

// PatternFixer generates mechanical corrections for known issue shapes and
// applies the safe ones directly to the tree.
type PatternFixer struct {
	// RepoRoot is the tree the fixes operate on.
	RepoRoot string
	// SpecDir receives the fix request file for fixes that were not
	// applied. Empty disables the file.
	SpecDir string
	// MinConfidence gates application; zero or negative means
	// DefaultMinFixConfidence.
	MinConfidence float64
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

var _ Fixer = (*PatternFixer)(nil)

// Fix generates one fix per issue and applies those that clear the
// confidence gate when apply is true. Manual-only fixes are always skipped.
func (pf *PatternFixer) Fix(ctx context.Context, issues []Issue, apply bool) (*FixResult, error) {
	logger := logging.WithComponent(pf.Logger, "fixer")
	result := &FixResult{Success: true}
	minConfidence := pf.minConfidence()

	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fix := pf.generateFix(issue, logger)

		if fix.Confidence < minConfidence {
			fix.Error = fmt.Sprintf("Confidence too low (%v < %v)", fix.Confidence, minConfidence)
			result.Skipped = append(result.Skipped, fix)
			continue
		}
		if fix.Strategy == StrategyManual {
			result.Skipped = append(result.Skipped, fix)
			continue
		}
		if !apply {
			result.Skipped = append(result.Skipped, fix)
			continue
		}

		if pf.applyFix(&fix) {
			logger.Info("fix applied", "issue", issue.Title, "file", fix.FilePath)
			result.Applied = append(result.Applied, fix)
		} else {
			logger.Warn("fix failed", "issue", issue.Title, "error", fix.Error)
			result.Failed = append(result.Failed, fix)
		}
	}

	nonApplied := make([]Fix, 0, len(result.Failed)+len(result.Skipped))
	nonApplied = append(nonApplied, result.Failed...)
	nonApplied = append(nonApplied, result.Skipped...)
	if len(nonApplied) > 0 && pf.SpecDir != "" {
		if err := pf.writeFixRequest(nonApplied); err != nil {
			return nil, fmt.Errorf("writing fix request: %w", err)
		}
	}

	criticalFailed := 0
	for _, fix := range result.Failed {
		if fix.Issue.Severity == SeverityCritical {
			criticalFailed++
		}
	}
	if criticalFailed > 0 {
		result.Success = false
		result.Message = fmt.Sprintf("Failed to fix %d critical issues", criticalFailed)
	} else {
		result.ReadyForRevalidation = true
		result.Message = fmt.Sprintf("Applied %d fixes, %d skipped, %d failed",
			len(result.Applied), len(result.Skipped), len(result.Failed))
	}

	return result, nil
}

func (pf *PatternFixer) minConfidence() float64 {
	if pf.MinConfidence > 0 {
		return pf.MinConfidence
	}
	return DefaultMinFixConfidence
}

func (pf *PatternFixer) generateFix(issue Issue, logger *slog.Logger) Fix {
	key := strings.ReplaceAll(strings.ToLower(issue.Title), " ", "_")
	tmpl, known := fixTemplates[key]

	strategy := StrategyManual
	description := "Fix " + issue.Title
	if known {
		strategy = tmpl.strategy
		description = tmpl.description
	}

	filePath, lineNumber := parseLocation(issue.Location)

	var originalCode string
	if filePath != "" && lineNumber > 0 {
		originalCode = pf.readLine(filePath, lineNumber, logger)
	}

	var fixedCode string
	if tmpl.template != "" && originalCode != "" {
		fixedCode = renderTemplate(tmpl.template, originalCode)
	}

	return Fix{
		Issue:        issue,
		Strategy:     strategy,
		Description:  description,
		FilePath:     filePath,
		LineNumber:   lineNumber,
		OriginalCode: originalCode,
		FixedCode:    fixedCode,
		Confidence:   confidenceFor(issue, strategy),
	}
}

// applyFix mutates the target file in place. Delete fixes need no
// replacement code; everything else does.
func (pf *PatternFixer) applyFix(fix *Fix) bool {
	if fix.FilePath == "" {
		fix.Error = "fix has no file location"
		return false
	}
	if fix.Strategy != StrategyDelete && fix.FixedCode == "" {
		fix.Error = "no replacement code generated"
		return false
	}

	fullPath := filepath.Join(pf.RepoRoot, fix.FilePath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			fix.Error = "File not found: " + fix.FilePath
		} else {
			fix.Error = err.Error()
		}
		return false
	}

	lines := splitLines(string(data))

	switch fix.Strategy {
	case StrategyReplace:
		if fix.LineNumber < 1 || fix.LineNumber > len(lines) {
			fix.Error = fmt.Sprintf("line %d out of range", fix.LineNumber)
			return false
		}
		original := lines[fix.LineNumber-1]
		indent := len(original) - len(strings.TrimLeftFunc(original, unicode.IsSpace))
		lines[fix.LineNumber-1] = strings.Repeat(" ", indent) + strings.TrimLeftFunc(fix.FixedCode, unicode.IsSpace)
	case StrategyDelete:
		if fix.LineNumber < 1 || fix.LineNumber > len(lines) {
			fix.Error = fmt.Sprintf("line %d out of range", fix.LineNumber)
			return false
		}
		lines = append(lines[:fix.LineNumber-1], lines[fix.LineNumber:]...)
	case StrategyInsert:
		if fix.LineNumber < 0 || fix.LineNumber > len(lines) {
			fix.Error = fmt.Sprintf("line %d out of range", fix.LineNumber)
			return false
		}
		tail := append([]string{fix.FixedCode}, lines[fix.LineNumber:]...)
		lines = append(lines[:fix.LineNumber], tail...)
	default:
		fix.Error = fmt.Sprintf("strategy %s cannot be applied automatically", fix.Strategy)
		return false
	}

	content := strings.Join(lines, "\n")
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		fix.Error = err.Error()
		return false
	}

	fix.Applied = true
	return true
}

func (pf *PatternFixer) readLine(filePath string, lineNumber int, logger *slog.Logger) string {
	data, err := os.ReadFile(filepath.Join(pf.RepoRoot, filePath))
	if err != nil {
		logger.Warn("could not read line", "path", filePath, "error", err)
		return ""
	}
	lines := splitLines(string(data))
	if lineNumber < 1 || lineNumber > len(lines) {
		return ""
	}
	return lines[lineNumber-1]
}

func (pf *PatternFixer) writeFixRequest(fixes []Fix) error {
	lines := []string{
		"# QA Fix Request",
		"",
		"The following issues require attention:",
		"",
	}

	for i, fix := range fixes {
		lines = append(lines,
			fmt.Sprintf("## Issue %d: %s", i+1, fix.Issue.Title),
			fmt.Sprintf("- **Severity**: %s", fix.Issue.Severity),
			fmt.Sprintf("- **Location**: %s", locationOrNA(fix.Issue.Location)),
			fmt.Sprintf("- **Description**: %s", fix.Issue.Description),
			fmt.Sprintf("- **Fix Strategy**: %s", fix.Strategy),
			fmt.Sprintf("- **Suggested Fix**: %s", fix.Description))
		if fix.OriginalCode != "" {
			lines = append(lines, fmt.Sprintf("- **Original Code**: `%s`", fix.OriginalCode))
		}
		if fix.FixedCode != "" {
			lines = append(lines, fmt.Sprintf("- **Fixed Code**: `%s`", fix.FixedCode))
		}
		if fix.Error != "" {
			lines = append(lines, fmt.Sprintf("- **Error**: %s", fix.Error))
		}
		lines = append(lines, "")
	}

	lines = append(lines,
		"---",
		"After fixing these issues, the QA loop will re-run automatically.")

	path := filepath.Join(pf.SpecDir, FixRequestFile)
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func locationOrNA(location string) string {
	if location == "" {
		return "N/A"
	}
	return location
}

// parseLocation splits a "file:line" location. A non-numeric suffix after
// the last colon still strips to the file part.
func parseLocation(location string) (string, int) {
	if location == "" {
		return "", 0
	}
	idx := strings.LastIndex(location, ":")
	if idx < 0 {
		return location, 0
	}
	line, err := strconv.Atoi(location[idx+1:])
	if err != nil || line < 0 {
		return location[:idx], 0
	}
	return location[:idx], line
}

var (
	assignRe = regexp.MustCompile(`(\w+)\s*=`)
	exceptRe = regexp.MustCompile(`except\s+(\w+)`)
)

// renderTemplate fills {var_name} and {exception} from the original line.
func renderTemplate(template, originalCode string) string {
	out := template
	if m := assignRe.FindStringSubmatch(originalCode); m != nil {
		out = strings.ReplaceAll(out, "{var_name}", strings.ToUpper(m[1]))
	}
	if m := exceptRe.FindStringSubmatch(originalCode); m != nil {
		out = strings.ReplaceAll(out, "{exception}", m[1])
	} else {
		out = strings.ReplaceAll(out, "{exception}", "Exception")
	}
	return out
}

// confidenceFor scores a fix: manual and refactor work starts low, and
// critical or high stakes lower it further.
func confidenceFor(issue Issue, strategy Strategy) float64 {
	confidence := 0.8
	switch strategy {
	case StrategyManual:
		confidence = 0.3
	case StrategyRefactor:
		confidence = 0.5
	}

	switch issue.Severity {
	case SeverityCritical:
		confidence *= 0.7
	case SeverityHigh:
		confidence *= 0.8
	}

	return math.Round(confidence*100) / 100
}

// splitLines splits content the way line numbers are counted, without a
// phantom empty line for a trailing newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// LoadFixRequest returns the pending fix request content, or "" when none
// exists.
func LoadFixRequest(specDir string) string {
	data, err := os.ReadFile(filepath.Join(specDir, FixRequestFile))
	if err != nil {
		return ""
	}
	return string(data)
}

// ClearFixRequest removes a consumed fix request. A missing file is not an
// error.
func ClearFixRequest(specDir string) error {
	err := os.Remove(filepath.Join(specDir, FixRequestFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
