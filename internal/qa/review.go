package qa

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/logging"
	"github.com/specforge/specforge/internal/pipeline"
)

// Category classifies what a review check looks for.
type Category string

const (
	CategorySyntax         Category = "syntax"
	CategoryStyle          Category = "style"
	CategorySecurity       Category = "security"
	CategoryPerformance    Category = "performance"
	CategoryCorrectness    Category = "correctness"
	CategorySpecAlignment  Category = "spec_alignment"
	CategoryBreakingChange Category = "breaking_change"
	CategoryTestCoverage   Category = "test_coverage"
)

// maxHighIssues is how many high-severity findings a review tolerates
// before rejecting.
const maxHighIssues = 3

// ReviewCheck is a single pattern-based check.
type ReviewCheck struct {
	Name        string
	Category    Category
	Description string
	// Pattern is matched case-insensitively across lines. An empty pattern
	// matches nothing.
	Pattern string
	// FilePatterns are globs matched against the base name. Empty means the
	// check applies to every file.
	FilePatterns []string
	Severity     Severity
	Disabled     bool
}

// matchesFile reports whether the check applies to the given path.
func (c ReviewCheck) matchesFile(relPath string) bool {
	if len(c.FilePatterns) == 0 {
		return true
	}
	base := path.Base(relPath)
	for _, pattern := range c.FilePatterns {
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// DefaultChecks returns the built-in review suite.
func DefaultChecks() []ReviewCheck {
	return []ReviewCheck{
		{
			Name:        "hardcoded_secrets",
			Category:    CategorySecurity,
			Description: "Check for hardcoded secrets or API keys",
			Pattern:     `(api[_-]?key|secret|password|token)\s*=\s*['"][^'"]+['"]`,
			Severity:    SeverityCritical,
		},
		{
			Name:         "sql_injection",
			Category:     CategorySecurity,
			Description:  "Check for potential SQL injection",
			Pattern:      `execute\s*\(\s*['"].*%.*['"]`,
			FilePatterns: []string{"*.py"},
			Severity:     SeverityCritical,
		},
		{
			Name:         "eval_usage",
			Category:     CategorySecurity,
			Description:  "Check for dangerous eval() usage",
			Pattern:      `\beval\s*\(`,
			FilePatterns: []string{"*.py", "*.js", "*.ts"},
			Severity:     SeverityHigh,
		},
		{
			Name:        "todo_comments",
			Category:    CategoryStyle,
			Description: "Check for TODO comments that should be resolved",
			Pattern:     `#\s*TODO|//\s*TODO|/\*\s*TODO`,
			Severity:    SeverityLow,
		},
		{
			Name:        "debug_statements",
			Category:    CategoryStyle,
			Description: "Check for debug statements left in code",
			Pattern:     `\bprint\s*\(|console\.log\s*\(|debugger\b`,
			Severity:    SeverityLow,
		},
		{
			Name:         "empty_except",
			Category:     CategoryCorrectness,
			Description:  "Check for empty except blocks",
			Pattern:      `except.*:\s*\n\s*(pass|\.\.\.)\s*$`,
			FilePatterns: []string{"*.py"},
			Severity:     SeverityMedium,
		},
		{
			Name:         "unused_imports",
			Category:     CategoryStyle,
			Description:  "Check for potentially unused imports",
			Pattern:      `^import\s+\w+\s*$|^from\s+\w+\s+import\s+\*`,
			FilePatterns: []string{"*.py"},
			Severity:     SeverityLow,
		},
		{
			Name:         "any_type",
			Category:     CategoryCorrectness,
			Description:  "Check for excessive 'any' type usage",
			Pattern:      `:\s*any\b`,
			FilePatterns: []string{"*.ts", "*.tsx"},
			Severity:     SeverityMedium,
		},
		{
			Name:         "console_error",
			Category:     CategoryCorrectness,
			Description:  "Check for console.error without proper handling",
			Pattern:      `console\.error\s*\([^)]*\)\s*;?\s*$`,
			FilePatterns: []string{"*.js", "*.ts", "*.jsx", "*.tsx"},
			Severity:     SeverityLow,
		},
	}
}

// ReviewRequest carries the inputs for one validation pass.
type ReviewRequest struct {
	// ChangedFiles limits the review to these repo-relative paths. Empty
	// means the whole tree is scanned.
	ChangedFiles []string
	// SpecContent enables spec-alignment checks when non-empty.
	SpecContent string
	// TaskDescription feeds impact analysis.
	TaskDescription string
}

// ReviewResult is the outcome of one review pass.
type ReviewResult struct {
	// Passed is false when blocking findings were made. Test results are
	// judged separately by the loop.
	Passed          bool
	Issues          []Issue
	Warnings        []string
	FilesReviewed   int
	ChecksPerformed int
	Duration        time.Duration
	// BreakingChanges summarizes impact-analysis findings.
	BreakingChanges []string
}

// Reviewer produces the findings for one validation pass.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error)
}

// ImpactProvider predicts breaking changes for a change set before approval.
type ImpactProvider interface {
	AnalyzeImpact(ctx context.Context, taskDescription string, changedFiles []string) (*pipeline.ImpactAnalysis, error)
}

// ignorePatterns are path fragments and base-name globs never reviewed.
var ignorePatterns = []string{
	"node_modules",
	"__pycache__",
	".git",
	".venv",
	"venv",
	"dist",
	"build",
	".specforge",
	"*.min.js",
	"*.min.css",
}

// defaultScanExts are the extensions scanned when no change set is given.
var defaultScanExts = []string{".py", ".ts", ".tsx", ".js", ".jsx", ".go"}

// StaticReviewer runs the pattern-based review suite against a tree.
type StaticReviewer struct {
	// RepoRoot is the tree under review; changed-file paths resolve
	// against it.
	RepoRoot string
	// Checks overrides DefaultChecks when non-nil.
	Checks []ReviewCheck
	// IgnorePatterns overrides the built-in ignore set when non-nil.
	IgnorePatterns []string
	// Impact, when set, contributes breaking-change findings.
	Impact ImpactProvider
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

var _ Reviewer = (*StaticReviewer)(nil)

// Review scans the change set (or the whole tree), checks spec alignment,
// and folds in predicted breaking changes. The verdict rejects on any
// critical finding or on three or more high ones.
func (sr *StaticReviewer) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	logger := logging.WithComponent(sr.Logger, "review")
	start := time.Now()

	checks, err := compileChecks(sr.checkSet())
	if err != nil {
		return nil, err
	}

	files, err := sr.filesToReview(req.ChangedFiles)
	if err != nil {
		return nil, err
	}

	result := &ReviewResult{Passed: true, FilesReviewed: len(files)}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Issues = append(result.Issues, sr.reviewFile(checks, file, logger)...)
		result.ChecksPerformed += len(checks)
	}

	if req.SpecContent != "" && len(req.ChangedFiles) > 0 {
		result.Issues = append(result.Issues, specAlignmentIssues(req.SpecContent, req.ChangedFiles)...)
	}

	if sr.Impact != nil && len(req.ChangedFiles) > 0 && req.TaskDescription != "" {
		sr.appendBreakingChanges(ctx, req, result, logger)
	}

	critical, high := 0, 0
	for _, issue := range result.Issues {
		switch issue.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		}
	}
	if critical > 0 || high >= maxHighIssues {
		result.Passed = false
	}

	result.Duration = time.Since(start)
	logger.Info("review complete",
		"files", result.FilesReviewed,
		"issues", len(result.Issues),
		"passed", result.Passed)
	return result, nil
}

func (sr *StaticReviewer) checkSet() []ReviewCheck {
	if sr.Checks != nil {
		return sr.Checks
	}
	return DefaultChecks()
}

func (sr *StaticReviewer) ignored(relPath string) bool {
	patterns := sr.IgnorePatterns
	if patterns == nil {
		patterns = ignorePatterns
	}
	base := path.Base(relPath)
	for _, pattern := range patterns {
		if strings.Contains(relPath, pattern) {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// filesToReview resolves the change set against the repo root, or walks the
// tree for reviewable extensions when no change set is given.
func (sr *StaticReviewer) filesToReview(changed []string) ([]string, error) {
	if len(changed) > 0 {
		var files []string
		for _, rel := range changed {
			if sr.ignored(filepath.ToSlash(rel)) {
				continue
			}
			files = append(files, filepath.Join(sr.RepoRoot, rel))
		}
		return files, nil
	}

	var files []string
	err := filepath.WalkDir(sr.RepoRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == sr.RepoRoot {
			return nil
		}
		rel, relErr := filepath.Rel(sr.RepoRoot, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if sr.ignored(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if sr.ignored(rel) || !hasScanExt(d.Name()) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", sr.RepoRoot, err)
	}
	return files, nil
}

func hasScanExt(name string) bool {
	ext := path.Ext(name)
	for _, scanExt := range defaultScanExts {
		if ext == scanExt {
			return true
		}
	}
	return false
}

func (sr *StaticReviewer) reviewFile(checks []compiledCheck, file string, logger *slog.Logger) []Issue {
	data, err := os.ReadFile(file)
	if err != nil {
		logger.Warn("could not read file", "path", file, "error", err)
		return nil
	}

	rel, err := filepath.Rel(sr.RepoRoot, file)
	if err != nil {
		rel = file
	}
	rel = filepath.ToSlash(rel)

	content := string(data)
	var issues []Issue
	for _, check := range checks {
		issues = append(issues, check.run(content, rel)...)
	}
	return issues
}

type compiledCheck struct {
	ReviewCheck
	re *regexp.Regexp
}

func compileChecks(checks []ReviewCheck) ([]compiledCheck, error) {
	compiled := make([]compiledCheck, 0, len(checks))
	for _, check := range checks {
		cc := compiledCheck{ReviewCheck: check}
		if check.Pattern != "" && !check.Disabled {
			re, err := regexp.Compile("(?im)" + check.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compiling check %s: %w", check.Name, err)
			}
			cc.re = re
		}
		compiled = append(compiled, cc)
	}
	return compiled, nil
}

func (cc compiledCheck) run(content, relPath string) []Issue {
	if cc.Disabled || cc.re == nil || !cc.matchesFile(relPath) {
		return nil
	}

	var issues []Issue
	for _, loc := range cc.re.FindAllStringIndex(content, -1) {
		line := 1 + strings.Count(content[:loc[0]], "\n")
		issues = append(issues, Issue{
			Title:       titleWords(cc.Name),
			Severity:    cc.Severity,
			Description: cc.Description,
			Location:    fmt.Sprintf("%s:%d", relPath, line),
			FixRequired: fmt.Sprintf("Review and fix: %s...", clip(content[loc[0]:loc[1]], 50)),
			Category:    string(cc.Category),
		})
	}
	return issues
}

// fileMentionRe extracts file-looking references from spec prose.
var fileMentionRe = regexp.MustCompile(`[a-zA-Z_/]+\.[a-zA-Z]+`)

// specAlignmentIssues flags files the spec names that the change set never
// touched. Purely informational.
func specAlignmentIssues(specContent string, changed []string) []Issue {
	var issues []Issue
	for _, mention := range fileMentionRe.FindAllString(specContent, -1) {
		if mentionCovered(mention, changed) {
			continue
		}
		// Keep path-like mentions, drop bare extensions and version-ish
		// tokens with multiple dots.
		if !strings.Contains(mention, "/") && strings.Count(mention, ".") != 1 {
			continue
		}
		issues = append(issues, Issue{
			Title:       "Potentially Missing File Modification",
			Severity:    SeverityInfo,
			Description: fmt.Sprintf("File '%s' is mentioned in spec but not in changed files", mention),
			Category:    string(CategorySpecAlignment),
		})
	}
	return issues
}

func mentionCovered(mention string, changed []string) bool {
	for _, file := range changed {
		if strings.Contains(file, mention) {
			return true
		}
	}
	return false
}

func (sr *StaticReviewer) appendBreakingChanges(ctx context.Context, req ReviewRequest, result *ReviewResult, logger *slog.Logger) {
	impact, err := sr.Impact.AnalyzeImpact(ctx, req.TaskDescription, req.ChangedFiles)
	if err != nil {
		logger.Warn("impact analysis failed", "error", err)
		return
	}
	if impact == nil {
		return
	}

	for _, bc := range impact.BreakingChanges {
		summary := fmt.Sprintf("%s at %s: %s", bc.ChangeType, bc.Location, bc.Description)
		result.BreakingChanges = append(result.BreakingChanges, summary)
		result.Issues = append(result.Issues, Issue{
			Title:       "Breaking Change Detected",
			Severity:    SeverityHigh,
			Description: summary,
			Category:    string(CategoryBreakingChange),
		})
	}
}

// titleWords renders a snake_case check name as a readable issue title.
func titleWords(name string) string {
	words := strings.Split(name, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
