package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImpactAnalyzer_Analyze_NoContext(t *testing.T) {
	t.Parallel()

	analyzer := &ImpactAnalyzer{ProjectDir: t.TempDir()}
	got := analyzer.Analyze()

	assert.Equal(t, SeverityLow, got.Severity)
	assert.Equal(t, 0.3, got.Confidence)
	assert.Equal(t, RollbackLow, got.RollbackComplexity)
	assert.Equal(t, "No context available for impact analysis", got.Reasoning)
	assert.Empty(t, got.AffectedFiles)
}

func TestImpactAnalyzer_Analyze(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/api.ts", "export function fetchUser(id: string) {}\n")

	window := &ContextWindow{
		FilesToModify: []FileContext{
			{Path: filepath.Join(root, "src/api.ts"), RelativePath: "src/api.ts"},
		},
		FilesToReference: []FileContext{
			{RelativePath: "src/client.ts", Imports: []string{"./api"}},
			{RelativePath: "src/widget.ts", Imports: []string{"./client"}},
		},
	}
	idx := &ProjectIndex{
		ProjectType: "monorepo",
		Services: map[string]ServiceInfo{
			"frontend": {Name: "frontend", Path: "src"},
			"root":     {Name: "root", Path: "."},
		},
	}

	analyzer := &ImpactAnalyzer{ProjectDir: root, Index: idx, Context: window}
	got := analyzer.Analyze()

	assert.Equal(t, SeverityLow, got.Severity)
	assert.Equal(t, 0.7, got.Confidence)

	// Transitive dependents: client imports api, widget imports client
	assert.Equal(t, []string{"src/api.ts", "src/client.ts", "src/widget.ts"}, got.AffectedFiles)

	// The root service never matches; every file would belong to it
	assert.Equal(t, []string{"frontend"}, got.AffectedServices)

	require.Len(t, got.BreakingChanges, 1)
	bc := got.BreakingChanges[0]
	assert.Equal(t, "api_change", bc.ChangeType)
	assert.Equal(t, "src/api.ts", bc.Location)
	assert.Equal(t, "Potential api_change: fetchUser", bc.Description)
	assert.Equal(t, []string{"src/client.ts"}, bc.AffectedConsumers)
	assert.False(t, bc.MigrationRequired)
	assert.Equal(t,
		"Consider adding deprecation notice before removing/changing 'fetchUser'. Create a new version if signature changes.",
		bc.SuggestedFix)

	assert.Equal(t, []string{"src/api.ts"}, got.TestCoverageGaps)
	assert.Equal(t, RollbackLow, got.RollbackComplexity)
	assert.Equal(t, []string{
		"Add tests for 1 uncovered file(s): src/api.ts",
		"Notify affected teams of API changes",
		"Consider versioning for backward compatibility",
	}, got.RecommendedMitigations)
	assert.Equal(t,
		"Analyzed 1 files to modify. "+
			"3 files affected by transitive dependencies. "+
			"Services affected: frontend. "+
			"Detected 1 potential breaking changes (api_change). "+
			"1 file(s) lack test coverage.",
		got.Reasoning)
}

func TestImpactAnalyzer_Analyze_NoConsumersNoBreakage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/util.ts", "export function formatDate(d: Date) {}\n")

	window := &ContextWindow{
		FilesToModify: []FileContext{
			{Path: filepath.Join(root, "src/util.ts"), RelativePath: "src/util.ts"},
		},
		FilesToReference: []FileContext{},
	}

	analyzer := &ImpactAnalyzer{ProjectDir: root, Context: window}
	got := analyzer.Analyze()

	// Exports with no importers cannot break anyone
	assert.Empty(t, got.BreakingChanges)
	assert.Equal(t, []string{"src/util.ts"}, got.AffectedFiles)
}

func TestImpactAnalyzer_Analyze_SchemaChange(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/db.ts", "export function migrate(sql: string) {}\n\nconst up = `CREATE TABLE users (id INT)`\n")

	window := &ContextWindow{
		FilesToModify: []FileContext{
			{Path: filepath.Join(root, "src/db.ts"), RelativePath: "src/db.ts"},
		},
		FilesToReference: []FileContext{
			{RelativePath: "src/init.ts", Imports: []string{"./db"}},
		},
	}

	analyzer := &ImpactAnalyzer{ProjectDir: root, Context: window}
	got := analyzer.Analyze()

	require.Len(t, got.BreakingChanges, 2)
	assert.Equal(t, "api_change", got.BreakingChanges[0].ChangeType)

	schema := got.BreakingChanges[1]
	assert.Equal(t, "schema_change", schema.ChangeType)
	assert.True(t, schema.MigrationRequired)
	assert.Equal(t,
		"Create a migration script for schema change. Consider backward-compatible approach first.",
		schema.SuggestedFix)

	assert.Equal(t, RollbackHigh, got.RollbackComplexity)
	assert.Equal(t, SeverityHigh, got.Severity)
	assert.True(t, got.RequiresMigrationPlan())
	assert.Contains(t, got.RecommendedMitigations, "Create database migration scripts with rollback support")
	assert.Contains(t, got.RecommendedMitigations, "Implement feature flags for gradual rollout")
}

func TestResolveImport(t *testing.T) {
	t.Parallel()

	graph := &depGraph{byPath: make(map[string]int)}
	graph.add(FileContext{RelativePath: "src/components/Button.tsx"})
	graph.add(FileContext{RelativePath: "src/util/index.ts"})

	tests := map[string]struct {
		imp      string
		fromFile string
		want     string
		found    bool
	}{
		"relative with tsx extension": {
			imp:      "./Button",
			fromFile: "src/components/App.tsx",
			want:     "src/components/Button.tsx",
			found:    true,
		},
		"parent relative": {
			imp:      "../util",
			fromFile: "src/components/App.tsx",
			want:     "src/util/index.ts",
			found:    true,
		},
		"src alias": {
			imp:      "@/util",
			fromFile: "src/main.ts",
			want:     "src/util/index.ts",
			found:    true,
		},
		"missing relative": {
			imp:      "./missing",
			fromFile: "src/components/App.tsx",
			found:    false,
		},
		"external package": {
			imp:      "react",
			fromFile: "src/main.ts",
			found:    false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			idx, ok := resolveImport(graph, tc.imp, tc.fromFile)
			assert.Equal(t, tc.found, ok)
			if tc.found {
				assert.Equal(t, tc.want, graph.nodes[idx].path)
			}
		})
	}
}

func TestCalculateSeverity(t *testing.T) {
	t.Parallel()

	files := func(n int) []string { return make([]string, n) }
	breaks := func(n int, migration bool) []BreakingChange {
		bcs := make([]BreakingChange, n)
		if migration && n > 0 {
			bcs[0].MigrationRequired = true
		}
		return bcs
	}

	tests := map[string]struct {
		affectedFiles    []string
		affectedServices []string
		breaking         []BreakingChange
		testGaps         []string
		rollback         string
		want             ImpactSeverity
	}{
		"nothing affected": {
			rollback: RollbackLow,
			want:     SeverityNone,
		},
		"one file": {
			affectedFiles: files(1),
			rollback:      RollbackLow,
			want:          SeverityLow,
		},
		"several files across services": {
			affectedFiles:    files(6),
			affectedServices: files(2),
			rollback:         RollbackLow,
			want:             SeverityMedium,
		},
		"wide blast radius": {
			affectedFiles:    files(16),
			affectedServices: files(2),
			breaking:         breaks(3, false),
			rollback:         RollbackLow,
			want:             SeverityHigh,
		},
		"migration everywhere": {
			affectedFiles:    files(31),
			affectedServices: files(4),
			breaking:         breaks(1, true),
			testGaps:         files(6),
			rollback:         RollbackHigh,
			want:             SeverityCritical,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, confidence := calculateSeverity(
				tc.affectedFiles, tc.affectedServices, tc.breaking, tc.testGaps, tc.rollback)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, 0.7, confidence)
		})
	}
}

func TestAssessRollback(t *testing.T) {
	t.Parallel()

	files := func(n int) []string { return make([]string, n) }

	tests := map[string]struct {
		affectedFiles []string
		breaking      []BreakingChange
		want          string
	}{
		"small change": {
			affectedFiles: files(2),
			want:          RollbackLow,
		},
		"migration required": {
			affectedFiles: files(2),
			breaking:      []BreakingChange{{MigrationRequired: true}},
			want:          RollbackHigh,
		},
		"many affected files": {
			affectedFiles: files(21),
			want:          RollbackHigh,
		},
		"moderate spread": {
			affectedFiles: files(11),
			want:          RollbackMedium,
		},
		"many breaking changes": {
			affectedFiles: files(3),
			breaking:      make([]BreakingChange, 4),
			want:          RollbackMedium,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, assessRollback(tc.affectedFiles, tc.breaking))
		})
	}
}
