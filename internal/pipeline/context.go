package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/logging"
	"github.com/specforge/specforge/internal/memory"
)

// MaxContextBytes caps the combined size of files selected into a context
// window.
const MaxContextBytes = 500_000

// DefaultMaxFiles is the default count cap for a context window.
const DefaultMaxFiles = 50

// maxFileBytes skips individual files too large to be worth including.
const maxFileBytes = 100_000

// sourceExtensions are the file types considered for context selection.
var sourceExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".mjs": true, ".cjs": true, ".py": true, ".pyi": true,
	".go": true, ".rs": true, ".java": true, ".kt": true,
	".cs": true, ".rb": true, ".php": true, ".vue": true,
	".svelte": true,
}

// stopWords are dropped during keyword extraction. The tail entries are
// task-verb noise like "add" and "fix" that would otherwise match half the
// codebase.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "must": true, "can": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"into": true, "through": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "between": true,
	"under": true, "again": true, "further": true, "then": true,
	"once": true, "here": true, "there": true, "when": true,
	"where": true, "why": true, "how": true, "all": true, "each": true,
	"few": true, "more": true, "most": true, "other": true, "some": true,
	"such": true, "no": true, "nor": true, "not": true, "only": true,
	"own": true, "same": true, "so": true, "than": true, "too": true,
	"very": true, "just": true, "also": true, "now": true, "and": true,
	"but": true, "or": true, "if": true, "because": true, "this": true,
	"that": true, "these": true, "those": true, "it": true, "its": true,
	"i": true, "me": true, "my": true, "we": true, "our": true,
	"you": true, "your": true, "he": true, "him": true, "his": true,
	"she": true, "her": true, "they": true, "them": true, "their": true,
	"what": true, "which": true, "who": true, "whom": true,
	"add": true, "create": true, "make": true, "implement": true,
	"fix": true, "update": true, "change": true, "need": true,
	"want": true, "like": true, "please": true, "help": true,
}

var (
	wordPattern  = regexp.MustCompile(`\b[a-z][a-z0-9_-]{2,}\b`)
	camelPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:[A-Z][a-z]+)+\b`)
	camelPart    = regexp.MustCompile(`[A-Z][a-z]+`)
)

// Import and export extraction patterns per language family.
var (
	es6ImportPattern     = regexp.MustCompile(`import\s+.*?\s+from\s+['"]([^'"]+)['"]`)
	dynamicImportPattern = regexp.MustCompile(`import\(['"]([^'"]+)['"]\)`)
	pythonImportPattern  = regexp.MustCompile(`(?m)^(?:from\s+(\S+)\s+)?import`)
	goImportPattern      = regexp.MustCompile(`import\s+["']([^"']+)["']`)
	namedExportPattern   = regexp.MustCompile(`export\s+(?:const|let|var|function|class|interface|type|enum)\s+(\w+)`)
	defaultExportPattern = regexp.MustCompile(`export\s+default`)
	pythonAllPattern     = regexp.MustCompile(`(?s)__all__\s*=\s*\[(.*?)\]`)
	quotedNamePattern    = regexp.MustCompile(`['"](\w+)['"]`)
)

var languageBySuffix = map[string]string{
	".ts": "typescript", ".tsx": "typescript",
	".js": "javascript", ".jsx": "javascript",
	".mjs": "javascript", ".cjs": "javascript",
	".py": "python", ".go": "go", ".rs": "rust",
	".java": "java", ".kt": "kotlin", ".cs": "csharp",
	".rb": "ruby", ".php": "php", ".vue": "vue",
	".svelte": "svelte",
}

// ContextResolver selects the files, tests, and remembered insights most
// relevant to a task.
type ContextResolver struct {
	// ProjectDir is the project root searched for candidates.
	ProjectDir string
	// Index scopes candidate searches to service directories when the task
	// names services.
	Index *ProjectIndex
	// Memory supplies remembered patterns and gotchas; nil disables
	// insights.
	Memory *memory.Store
	// MaxFiles caps the selected file count; zero means DefaultMaxFiles.
	MaxFiles int
	// IgnoreDirs extends the built-in ignore set, typically with the state
	// directory.
	IgnoreDirs []string
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// scoredFile pairs a candidate with its relevance before selection.
type scoredFile struct {
	file   treeFile
	score  float64
	reason string
}

// Resolve builds the context window for a task. Services, when given,
// restrict the search to those service directories.
func (r *ContextResolver) Resolve(ctx context.Context, task string, services []string) (*ContextWindow, error) {
	root, err := filepath.Abs(r.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	logger := logging.WithComponent(r.Logger, "context")
	logger.Info("resolving context", "task", truncate(task, 100))

	maxFiles := r.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	keywords := ExtractKeywords(task)
	logger.Debug("extracted keywords", "keywords", keywords)

	scanner := &Scanner{Root: root, IgnoreDirs: r.IgnoreDirs, Logger: r.Logger}
	files, _, err := scanner.walkTree(ctx, root)
	if err != nil {
		return nil, err
	}

	candidates := r.findCandidates(files, keywords, services, root)
	logger.Debug("found candidates", "count", len(candidates))

	scored := r.scoreFiles(root, candidates, keywords, task)
	modify, reference := r.selectFiles(root, scored, maxFiles)

	window := &ContextWindow{
		TaskDescription:  task,
		ScopedServices:   services,
		FilesToModify:    modify,
		FilesToReference: reference,
		RelatedTests:     findRelatedTests(files, modify),
		DependencyGraph:  buildDependencyGraph(modify),
		CreatedAt:        time.Now().UTC(),
	}
	if r.Memory != nil {
		insights := r.Memory.Insights(keywords)
		if len(insights) > 10 {
			insights = insights[:10]
		}
		window.MemoryInsights = insights
	}

	logger.Info("context resolved",
		"modify", len(window.FilesToModify),
		"reference", len(window.FilesToReference),
		"insights", len(window.MemoryInsights))

	return window, nil
}

// ExtractKeywords pulls up to 30 search keywords from a task description:
// lowercase words minus stop words, plus the parts of any camelCase
// identifiers.
func ExtractKeywords(task string) []string {
	var keywords []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(task), -1) {
		if !stopWords[w] {
			keywords = append(keywords, w)
		}
	}

	for _, ident := range camelPattern.FindAllString(task, -1) {
		for _, part := range camelPart.FindAllString(ident, -1) {
			keywords = append(keywords, strings.ToLower(part))
		}
	}

	seen := make(map[string]bool, len(keywords))
	unique := keywords[:0]
	for _, kw := range keywords {
		if !seen[kw] {
			seen[kw] = true
			unique = append(unique, kw)
		}
	}
	if len(unique) > 30 {
		unique = unique[:30]
	}
	return unique
}

// findCandidates picks source files whose name or content matches the
// keywords. Content is only consulted while the candidate list is small,
// and only its first 5000 bytes.
func (r *ContextResolver) findCandidates(files []treeFile, keywords, services []string, root string) []treeFile {
	prefixes := r.servicePrefixes(services)

	var candidates []treeFile
	for _, f := range files {
		if !sourceExtensions[f.ext] {
			continue
		}
		if prefixes != nil && !hasAnyPrefix(f.rel, prefixes) {
			continue
		}

		stem := strings.ToLower(fileStem(f.name))
		if containsAnyKeyword(stem, keywords) {
			candidates = append(candidates, f)
			continue
		}

		if len(candidates) >= 200 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.rel)))
		if err != nil {
			continue
		}
		if len(data) > 5000 {
			data = data[:5000]
		}
		content := strings.ToLower(string(data))
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				hits++
				if hits >= 2 {
					candidates = append(candidates, f)
					break
				}
			}
		}
	}
	return candidates
}

// servicePrefixes maps scoped service names to path prefixes; nil means
// search the whole project.
func (r *ContextResolver) servicePrefixes(services []string) []string {
	if len(services) == 0 || r.Index == nil {
		return nil
	}
	var prefixes []string
	for _, name := range services {
		svc, ok := r.Index.Services[name]
		if !ok {
			continue
		}
		if svc.Path == "." || svc.Path == "" {
			return nil
		}
		prefixes = append(prefixes, strings.TrimSuffix(svc.Path, "/")+"/")
	}
	return prefixes
}

func (r *ContextResolver) scoreFiles(root string, candidates []treeFile, keywords []string, task string) []scoredFile {
	taskLower := strings.ToLower(task)
	wantsModification := strings.Contains(taskLower, "fix") ||
		strings.Contains(taskLower, "update") ||
		strings.Contains(taskLower, "change")

	var scored []scoredFile
	for _, f := range candidates {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.rel)))
		if err != nil {
			continue
		}
		content := strings.ToLower(string(data))
		stem := strings.ToLower(fileStem(f.name))

		score := 0.0
		reason := ""

		var stemMatches []string
		for _, kw := range keywords {
			if strings.Contains(stem, kw) {
				stemMatches = append(stemMatches, kw)
			}
		}
		score += float64(len(stemMatches)) * 10

		contentMatches := 0
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				contentMatches++
			}
		}
		score += float64(contentMatches) * 2

		if f.ext == ".ts" || f.ext == ".tsx" || f.ext == ".py" {
			score += 5
		}
		switch f.name {
		case "index.ts", "index.js", "main.py", "app.py":
			score += 8
		}

		// Test files stay reference material unless nothing else matches.
		if strings.Contains(stem, "test") || strings.Contains(stem, "spec") {
			score *= 0.5
		}

		if wantsModification && len(stemMatches) > 0 {
			reason = fmt.Sprintf("Likely modification target (matches: %s)", strings.Join(stemMatches, ", "))
		}
		if strings.Contains(taskLower, "component") && (f.ext == ".tsx" || f.ext == ".vue" || f.ext == ".svelte") {
			score += 10
			reason = "Component file matching task"
		}
		if strings.Contains(taskLower, "api") &&
			(strings.Contains(stem, "api") || strings.Contains(stem, "route") || strings.Contains(stem, "controller")) {
			score += 10
			reason = "API-related file"
		}
		if strings.Contains(taskLower, "database") &&
			(strings.Contains(stem, "model") || strings.Contains(stem, "schema") || strings.Contains(stem, "migration")) {
			score += 10
			reason = "Database-related file"
		}

		if score > 0 {
			scored = append(scored, scoredFile{file: f, score: score, reason: reason})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].file.rel < scored[j].file.rel
	})
	return scored
}

// selectFiles takes scored candidates in order until either cap is hit.
// Files with a modification reason land in the modify list, the rest are
// reference material.
func (r *ContextResolver) selectFiles(root string, scored []scoredFile, maxFiles int) ([]FileContext, []FileContext) {
	modify := []FileContext{}
	reference := []FileContext{}
	var totalSize int64

	for _, sf := range scored {
		if len(modify)+len(reference) >= maxFiles {
			break
		}
		if totalSize >= MaxContextBytes {
			break
		}

		abs := filepath.Join(root, filepath.FromSlash(sf.file.rel))
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if info.Size() > maxFileBytes {
			continue
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			continue
		}
		content := string(data)

		fc := FileContext{
			Path:               abs,
			RelativePath:       sf.file.rel,
			Language:           languageForSuffix(sf.file.ext),
			SizeBytes:          info.Size(),
			LineCount:          strings.Count(content, "\n") + 1,
			Imports:            extractImports(content, sf.file.ext),
			Exports:            extractExports(content, sf.file.ext),
			RelevanceScore:     sf.score,
			ModificationReason: sf.reason,
		}

		if sf.reason != "" {
			modify = append(modify, fc)
		} else {
			reference = append(reference, fc)
		}
		totalSize += info.Size()
	}

	return modify, reference
}

// findRelatedTests locates test files named after the files being modified,
// capped at 20.
func findRelatedTests(files []treeFile, modify []FileContext) []string {
	if len(modify) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	for _, fc := range modify {
		stem := fileStem(filepath.Base(fc.Path))
		prefixes := []string{
			stem + ".test.",
			stem + ".spec.",
			"test_" + stem + ".",
			stem + "_test.",
		}
		for _, f := range files {
			if !sourceExtensions[f.ext] {
				continue
			}
			for _, prefix := range prefixes {
				if strings.HasPrefix(f.name, prefix) {
					seen[f.rel] = true
					break
				}
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}
	tests := make([]string, 0, len(seen))
	for rel := range seen {
		tests = append(tests, rel)
	}
	sort.Strings(tests)
	if len(tests) > 20 {
		tests = tests[:20]
	}
	return tests
}

// buildDependencyGraph maps each modified file to its project-internal
// imports. External package imports are dropped.
func buildDependencyGraph(modify []FileContext) map[string][]string {
	graph := make(map[string][]string)
	for _, fc := range modify {
		var deps []string
		for _, imp := range fc.Imports {
			if strings.HasPrefix(imp, ".") || strings.HasPrefix(imp, "@/") || strings.HasPrefix(imp, "~/") {
				deps = append(deps, imp)
			}
		}
		if len(deps) > 0 {
			graph[fc.RelativePath] = deps
		}
	}
	if len(graph) == 0 {
		return nil
	}
	return graph
}

// extractImports pulls up to 20 imported module specifiers from a file.
func extractImports(content, suffix string) []string {
	var imports []string

	switch suffix {
	case ".ts", ".tsx", ".js", ".jsx", ".mjs":
		for _, m := range es6ImportPattern.FindAllStringSubmatch(content, -1) {
			imports = append(imports, m[1])
		}
		for _, m := range dynamicImportPattern.FindAllStringSubmatch(content, -1) {
			imports = append(imports, m[1])
		}
	case ".py":
		for _, m := range pythonImportPattern.FindAllStringSubmatch(content, -1) {
			if m[1] != "" {
				imports = append(imports, m[1])
			}
		}
	case ".go":
		for _, m := range goImportPattern.FindAllStringSubmatch(content, -1) {
			imports = append(imports, m[1])
		}
	}

	if len(imports) > 20 {
		imports = imports[:20]
	}
	return imports
}

// extractExports pulls up to 20 exported names from a file.
func extractExports(content, suffix string) []string {
	var exports []string

	switch suffix {
	case ".ts", ".tsx", ".js", ".jsx":
		for _, m := range namedExportPattern.FindAllStringSubmatch(content, -1) {
			exports = append(exports, m[1])
		}
		if defaultExportPattern.MatchString(content) {
			exports = append(exports, "default")
		}
	case ".py":
		if m := pythonAllPattern.FindStringSubmatch(content); m != nil {
			for _, name := range quotedNamePattern.FindAllStringSubmatch(m[1], -1) {
				exports = append(exports, name[1])
			}
		}
	}

	if len(exports) > 20 {
		exports = exports[:20]
	}
	return exports
}

func languageForSuffix(suffix string) string {
	if lang, ok := languageBySuffix[suffix]; ok {
		return lang
	}
	return "unknown"
}

func fileStem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func containsAnyKeyword(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
