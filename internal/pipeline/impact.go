package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/specforge/specforge/internal/logging"
)

// breakingRules map source patterns to breaking change categories. Rules
// are checked in order per modified file.
var breakingRules = []struct {
	changeType string
	patterns   []*regexp.Regexp
}{
	{"api_change", []*regexp.Regexp{
		regexp.MustCompile(`export\s+(?:async\s+)?function\s+(\w+)`),
		regexp.MustCompile(`export\s+interface\s+(\w+)`),
		regexp.MustCompile(`export\s+type\s+(\w+)`),
		regexp.MustCompile(`export\s+class\s+(\w+)`),
		regexp.MustCompile(`@app\.(?:get|post|put|delete|patch)\(`),
		regexp.MustCompile(`router\.(?:get|post|put|delete|patch)\(`),
	}},
	{"schema_change", []*regexp.Regexp{
		regexp.MustCompile(`CREATE\s+TABLE`),
		regexp.MustCompile(`ALTER\s+TABLE`),
		regexp.MustCompile(`DROP\s+TABLE`),
		regexp.MustCompile(`ADD\s+COLUMN`),
		regexp.MustCompile(`DROP\s+COLUMN`),
		regexp.MustCompile(`class\s+\w+\(.*?Model\)`),
		regexp.MustCompile(`@Entity\(`),
	}},
	{"config_change", []*regexp.Regexp{
		regexp.MustCompile(`process\.env\.`),
		regexp.MustCompile(`os\.environ`),
		regexp.MustCompile(`\.env`),
		regexp.MustCompile(`config\.`),
	}},
}

// importResolutionExts are tried in order when resolving an import
// specifier to a file in the graph.
var importResolutionExts = []string{".ts", ".tsx", ".js", ".jsx", "/index.ts", "/index.js"}

// depNode is one file in the impact dependency graph. Edges are indices
// into the graph's node arena.
type depNode struct {
	path         string
	imports      []string
	dependents   []int // files that import this one
	dependencies []int // files this one imports
}

// depGraph holds all nodes in one insertion-ordered arena so traversals
// are deterministic.
type depGraph struct {
	nodes  []depNode
	byPath map[string]int
}

func (g *depGraph) add(fc FileContext) {
	if _, ok := g.byPath[fc.RelativePath]; ok {
		return
	}
	g.byPath[fc.RelativePath] = len(g.nodes)
	g.nodes = append(g.nodes, depNode{path: fc.RelativePath, imports: fc.Imports})
}

// ImpactAnalyzer predicts how the planned changes ripple through the
// codebase before any code is written: transitive dependents, breaking
// change candidates, coverage gaps, and rollback effort.
type ImpactAnalyzer struct {
	// ProjectDir is the project root; modified files are read from here.
	ProjectDir string
	// Index attributes affected files to services.
	Index *ProjectIndex
	// Context is the resolved context window; without one the analyzer
	// returns a minimal low-severity result.
	Context *ContextWindow
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Analyze runs the full prediction. Unreadable files are skipped rather
// than failing the analysis.
func (ia *ImpactAnalyzer) Analyze() *ImpactAnalysis {
	logger := logging.WithComponent(ia.Logger, "impact")

	if ia.Context == nil {
		logger.Warn("no context available, returning minimal analysis")
		return &ImpactAnalysis{
			Severity:           SeverityLow,
			Confidence:         0.3,
			RollbackComplexity: RollbackLow,
			Reasoning:          "No context available for impact analysis",
		}
	}

	graph := ia.buildGraph()
	affectedFiles := ia.findAffectedFiles(graph)
	affectedServices := ia.findAffectedServices(affectedFiles)
	breaking := ia.detectBreakingChanges(graph)
	testGaps := ia.testCoverageGaps()
	rollback := assessRollback(affectedFiles, breaking)
	severity, confidence := calculateSeverity(affectedFiles, affectedServices, breaking, testGaps, rollback)

	analysis := &ImpactAnalysis{
		Severity:               severity,
		Confidence:             confidence,
		AffectedFiles:          affectedFiles,
		AffectedServices:       affectedServices,
		BreakingChanges:        breaking,
		TestCoverageGaps:       testGaps,
		RollbackComplexity:     rollback,
		RecommendedMitigations: recommendMitigations(severity, breaking, testGaps, rollback),
		Reasoning:              ia.buildReasoning(affectedFiles, affectedServices, breaking, testGaps),
	}

	logger.Info("impact analysis complete",
		"severity", severity,
		"affected_files", len(affectedFiles),
		"breaking_changes", len(breaking))

	return analysis
}

// buildGraph links the context window's files by their imports. Only files
// inside the window can appear as dependencies.
func (ia *ImpactAnalyzer) buildGraph() *depGraph {
	graph := &depGraph{byPath: make(map[string]int)}
	for _, fc := range ia.Context.FilesToModify {
		graph.add(fc)
	}
	for _, fc := range ia.Context.FilesToReference {
		graph.add(fc)
	}

	for i := range graph.nodes {
		for _, imp := range graph.nodes[i].imports {
			resolved, ok := resolveImport(graph, imp, graph.nodes[i].path)
			if !ok {
				continue
			}
			graph.nodes[i].dependencies = append(graph.nodes[i].dependencies, resolved)
			graph.nodes[resolved].dependents = append(graph.nodes[resolved].dependents, i)
		}
	}
	return graph
}

// resolveImport maps an import specifier to a node index. Relative
// specifiers resolve against the importing file's directory; "@/" and "~/"
// aliases try the src/ prefix first.
func resolveImport(graph *depGraph, imp, fromFile string) (int, bool) {
	if strings.HasPrefix(imp, ".") {
		base := path.Clean(path.Join(path.Dir(fromFile), imp))
		for _, ext := range importResolutionExts {
			if idx, ok := graph.byPath[base+ext]; ok {
				return idx, true
			}
		}
		return 0, false
	}

	if strings.HasPrefix(imp, "@/") || strings.HasPrefix(imp, "~/") {
		base := imp[2:]
		for _, prefix := range []string{"src/", ""} {
			for _, ext := range importResolutionExts {
				if idx, ok := graph.byPath[prefix+base+ext]; ok {
					return idx, true
				}
			}
		}
	}
	return 0, false
}

// findAffectedFiles walks dependents breadth-first from the files being
// modified.
func (ia *ImpactAnalyzer) findAffectedFiles(graph *depGraph) []string {
	affected := make(map[string]bool)
	visited := make([]bool, len(graph.nodes))
	var queue []int
	for _, fc := range ia.Context.FilesToModify {
		affected[fc.RelativePath] = true
		if i, ok := graph.byPath[fc.RelativePath]; ok && !visited[i] {
			visited[i] = true
			queue = append(queue, i)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range graph.nodes[current].dependents {
			if !visited[dependent] {
				visited[dependent] = true
				affected[graph.nodes[dependent].path] = true
				queue = append(queue, dependent)
			}
		}
	}

	files := make([]string, 0, len(affected))
	for f := range affected {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// findAffectedServices attributes affected files to services by path
// prefix. The root service ("." path) is skipped since every file would
// trivially belong to it.
func (ia *ImpactAnalyzer) findAffectedServices(affectedFiles []string) []string {
	if ia.Index == nil {
		return nil
	}

	seen := make(map[string]bool)
	for _, file := range affectedFiles {
		for name, svc := range ia.Index.Services {
			if svc.Path == "." || svc.Path == "" {
				continue
			}
			if strings.HasPrefix(file, svc.Path) {
				seen[name] = true
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	services := make([]string, 0, len(seen))
	for name := range seen {
		services = append(services, name)
	}
	sort.Strings(services)
	return services
}

// detectBreakingChanges scans files being modified for exported surface
// that other files in the window consume. Matches without consumers are
// not reported: nothing can break if nothing imports it.
func (ia *ImpactAnalyzer) detectBreakingChanges(graph *depGraph) []BreakingChange {
	var changes []BreakingChange
	seen := make(map[[3]string]bool)

	for _, fc := range ia.Context.FilesToModify {
		data, err := os.ReadFile(filepath.Join(ia.ProjectDir, filepath.FromSlash(fc.RelativePath)))
		if err != nil {
			continue
		}
		content := string(data)

		var consumers []string
		if i, ok := graph.byPath[fc.RelativePath]; ok {
			for _, dependent := range graph.nodes[i].dependents {
				consumers = append(consumers, graph.nodes[dependent].path)
			}
		}
		if len(consumers) > 10 {
			consumers = consumers[:10]
		}
		if len(consumers) == 0 {
			continue
		}

		for _, rule := range breakingRules {
			for _, pattern := range rule.patterns {
				for _, m := range pattern.FindAllStringSubmatch(content, -1) {
					name := m[0]
					if len(m) > 1 {
						name = m[1]
					}

					key := [3]string{rule.changeType, fc.RelativePath, name}
					if seen[key] {
						continue
					}
					seen[key] = true

					changes = append(changes, BreakingChange{
						ChangeType:        rule.changeType,
						Location:          fc.RelativePath,
						Description:       fmt.Sprintf("Potential %s: %s", rule.changeType, name),
						AffectedConsumers: consumers,
						MigrationRequired: rule.changeType == "schema_change",
						SuggestedFix:      suggestFix(rule.changeType, name),
					})
				}
			}
		}
	}
	return changes
}

func suggestFix(changeType, name string) string {
	switch changeType {
	case "api_change":
		return fmt.Sprintf("Consider adding deprecation notice before removing/changing '%s'. Create a new version if signature changes.", name)
	case "schema_change":
		return "Create a migration script for schema change. Consider backward-compatible approach first."
	case "config_change":
		return "Document new configuration requirements. Provide sensible defaults for backward compatibility."
	}
	return ""
}

// testCoverageGaps lists modified files with no related test. Test files
// themselves are exempt.
func (ia *ImpactAnalyzer) testCoverageGaps() []string {
	relatedTests := ia.Context.RelatedTests

	var gaps []string
	for _, fc := range ia.Context.FilesToModify {
		lower := strings.ToLower(fc.RelativePath)
		if strings.Contains(lower, "test") || strings.Contains(lower, "spec") || strings.Contains(lower, "__tests__") {
			continue
		}

		stem := fileStem(path.Base(fc.RelativePath))
		hasTest := false
		for _, test := range relatedTests {
			if strings.Contains(test, stem) {
				hasTest = true
				break
			}
		}
		if !hasTest {
			gaps = append(gaps, fc.RelativePath)
		}
	}
	return gaps
}

func assessRollback(affectedFiles []string, breaking []BreakingChange) string {
	for _, bc := range breaking {
		if bc.MigrationRequired {
			return RollbackHigh
		}
	}
	switch {
	case len(affectedFiles) > 20:
		return RollbackHigh
	case len(affectedFiles) > 10:
		return RollbackMedium
	case len(breaking) > 3:
		return RollbackMedium
	}
	return RollbackLow
}

func calculateSeverity(
	affectedFiles, affectedServices []string,
	breaking []BreakingChange,
	testGaps []string,
	rollback string,
) (ImpactSeverity, float64) {
	score := 0

	switch {
	case len(affectedFiles) > 30:
		score += 4
	case len(affectedFiles) > 15:
		score += 3
	case len(affectedFiles) > 5:
		score += 2
	case len(affectedFiles) > 0:
		score++
	}

	switch {
	case len(affectedServices) > 3:
		score += 3
	case len(affectedServices) > 1:
		score += 2
	case len(affectedServices) == 1:
		score++
	}

	migration := false
	for _, bc := range breaking {
		if bc.MigrationRequired {
			migration = true
			break
		}
	}
	switch {
	case migration:
		score += 4
	case len(breaking) > 5:
		score += 3
	case len(breaking) > 2:
		score += 2
	case len(breaking) > 0:
		score++
	}

	switch {
	case len(testGaps) > 5:
		score += 2
	case len(testGaps) > 2:
		score++
	}

	switch rollback {
	case RollbackHigh:
		score += 2
	case RollbackMedium:
		score++
	}

	const confidence = 0.7
	switch {
	case score >= 10:
		return SeverityCritical, confidence
	case score >= 7:
		return SeverityHigh, confidence
	case score >= 4:
		return SeverityMedium, confidence
	case score >= 1:
		return SeverityLow, confidence
	}
	return SeverityNone, confidence
}

func recommendMitigations(
	severity ImpactSeverity,
	breaking []BreakingChange,
	testGaps []string,
	rollback string,
) []string {
	var mitigations []string

	if severity == SeverityHigh || severity == SeverityCritical {
		mitigations = append(mitigations,
			"Create a detailed rollback plan before implementation",
			"Consider implementing changes in phases")
	}

	if len(testGaps) > 0 {
		sample := testGaps
		if len(sample) > 3 {
			sample = sample[:3]
		}
		mitigations = append(mitigations,
			fmt.Sprintf("Add tests for %d uncovered file(s): %s", len(testGaps), strings.Join(sample, ", ")))
	}

	migration := false
	for _, bc := range breaking {
		if bc.MigrationRequired {
			migration = true
			break
		}
	}
	if migration {
		mitigations = append(mitigations,
			"Create database migration scripts with rollback support",
			"Schedule deployment during low-traffic period")
	}

	if len(breaking) > 0 {
		mitigations = append(mitigations,
			"Notify affected teams of API changes",
			"Consider versioning for backward compatibility")
	}

	if rollback == RollbackHigh {
		mitigations = append(mitigations,
			"Implement feature flags for gradual rollout",
			"Set up monitoring alerts for quick issue detection")
	}

	return mitigations
}

func (ia *ImpactAnalyzer) buildReasoning(
	affectedFiles, affectedServices []string,
	breaking []BreakingChange,
	testGaps []string,
) string {
	parts := []string{fmt.Sprintf("Analyzed %d files to modify.", len(ia.Context.FilesToModify))}

	if len(affectedFiles) > 0 {
		parts = append(parts, fmt.Sprintf("%d files affected by transitive dependencies.", len(affectedFiles)))
	}
	if len(affectedServices) > 0 {
		parts = append(parts, fmt.Sprintf("Services affected: %s.", strings.Join(affectedServices, ", ")))
	}
	if len(breaking) > 0 {
		types := make(map[string]bool)
		var ordered []string
		for _, bc := range breaking {
			if !types[bc.ChangeType] {
				types[bc.ChangeType] = true
				ordered = append(ordered, bc.ChangeType)
			}
		}
		parts = append(parts, fmt.Sprintf("Detected %d potential breaking changes (%s).", len(breaking), strings.Join(ordered, ", ")))
	}
	if len(testGaps) > 0 {
		parts = append(parts, fmt.Sprintf("%d file(s) lack test coverage.", len(testGaps)))
	}

	return strings.Join(parts, " ")
}
