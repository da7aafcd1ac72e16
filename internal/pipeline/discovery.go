package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/logging"
)

// ignoredDirs are directory (and file) basenames never scanned. The state
// directory is added on top via Scanner.IgnoreDirs.
var ignoredDirs = map[string]bool{
	"node_modules":  true,
	".git":          true,
	".svn":          true,
	"__pycache__":   true,
	".pytest_cache": true,
	".mypy_cache":   true,
	".tox":          true,
	".venv":         true,
	"venv":          true,
	".env":          true,
	"dist":          true,
	"build":         true,
	"out":           true,
	".next":         true,
	".nuxt":         true,
	"coverage":      true,
	"target":        true,
	"vendor":        true,
	"Pods":          true,
}

// countedExtensions are the extensions included in file and line counts.
var countedExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".go": true, ".rs": true, ".java": true,
	".cs": true, ".rb": true, ".php": true,
}

// languageRule detects a language from file extensions anywhere in the tree
// or marker files at the project root. Rule order decides ties when picking
// a directory's primary language.
type languageRule struct {
	name       string
	extensions []string
	markers    []string
}

var languageRules = []languageRule{
	{"typescript", []string{".ts", ".tsx"}, []string{"tsconfig.json"}},
	{"javascript", []string{".js", ".jsx", ".mjs", ".cjs"}, nil},
	{"python", []string{".py"}, []string{"pyproject.toml", "setup.py", "requirements.txt"}},
	{"rust", []string{".rs"}, []string{"Cargo.toml"}},
	{"go", []string{".go"}, []string{"go.mod"}},
	{"java", []string{".java"}, []string{"pom.xml", "build.gradle"}},
	{"csharp", []string{".cs", ".csproj", ".sln"}, nil},
	{"ruby", []string{".rb"}, []string{"Gemfile"}},
	{"php", []string{".php"}, []string{"composer.json"}},
}

// frameworkRule detects a framework from root-level files. When contains is
// non-empty, a candidate file must also contain one of the substrings.
type frameworkRule struct {
	name     string
	files    []string
	contains []string
}

var frameworkRules = []frameworkRule{
	{"react", []string{"package.json"}, []string{"react", "react-dom"}},
	{"nextjs", []string{"next.config.js", "next.config.ts", "next.config.mjs"}, nil},
	{"vue", []string{"package.json"}, []string{"vue"}},
	{"angular", []string{"angular.json", "package.json"}, []string{"@angular/core"}},
	{"svelte", []string{"svelte.config.js", "package.json"}, []string{"svelte"}},
	{"express", []string{"package.json"}, []string{"express"}},
	{"fastapi", []string{"requirements.txt", "pyproject.toml"}, []string{"fastapi"}},
	{"django", []string{"manage.py", "requirements.txt"}, []string{"django"}},
	{"flask", []string{"requirements.txt", "pyproject.toml"}, []string{"flask"}},
	{"rails", []string{"Gemfile"}, []string{"rails"}},
	{"spring", []string{"pom.xml", "build.gradle"}, []string{"spring"}},
}

// serviceEntryPoints are checked in order when locating a service's entry
// file.
var serviceEntryPoints = []string{
	"src/index.ts",
	"src/index.js",
	"src/main.ts",
	"src/main.js",
	"index.ts",
	"index.js",
	"main.py",
	"app.py",
	"src/main.py",
	"src/app.py",
	"main.go",
	"cmd/main.go",
	"src/main.rs",
	"src/lib.rs",
}

// testDirNames are directory basenames treated as test directories.
var testDirNames = map[string]bool{
	"test": true, "tests": true, "__tests__": true,
	"spec": true, "specs": true, "e2e": true,
}

// configFilePatterns are root-level globs collected as configuration files.
var configFilePatterns = []string{
	"*.config.js",
	"*.config.ts",
	"*.config.json",
	".eslintrc*",
	".prettierrc*",
	"tsconfig*.json",
	"package.json",
	"pyproject.toml",
	"setup.py",
	"Cargo.toml",
	"go.mod",
	"docker-compose*.yml",
	"Dockerfile*",
	".env.example",
}

// pyprojectDeps extracts the [project] dependencies array from a
// pyproject.toml.
var pyprojectDeps = regexp.MustCompile(`(?s)\[project\]\s*dependencies\s*=\s*\[(.*?)\]`)

// treeFile is one non-ignored file found while walking the project.
type treeFile struct {
	rel  string // slash-separated path relative to the root
	name string
	ext  string // lowercased extension, including the dot
}

// Scanner walks a project tree and builds its ProjectIndex.
type Scanner struct {
	// Root is the project directory to scan.
	Root string
	// IgnoreDirs adds basenames to the built-in ignore set, typically the
	// state directory so a project never indexes its own artifacts.
	IgnoreDirs []string
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Scan builds the project index. The context is checked while walking so a
// scan of a large tree can be cancelled.
func (s *Scanner) Scan(ctx context.Context) (*ProjectIndex, error) {
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	logger := logging.WithComponent(s.Logger, "discovery")

	files, testDirs, err := s.walkTree(ctx, root)
	if err != nil {
		return nil, err
	}

	projectType := s.detectProjectType(root)
	languages := s.detectLanguages(root, files)
	frameworks := s.detectFrameworks(root)
	services := s.discoverServices(root, files)
	entryPoints := s.findEntryPoints(root)
	configFiles := s.findConfigFiles(root)
	deps, devDeps := s.parseDependencies(root)
	fileCount, totalLines := s.countFilesAndLines(root, files)

	if len(testDirs) > 10 {
		testDirs = testDirs[:10]
	}

	idx := &ProjectIndex{
		ProjectType: projectType,
		RootPath:    root,
		TechStack: TechStack{
			Languages:  languages,
			Frameworks: frameworks,
		},
		Services:        services,
		EntryPoints:     entryPoints,
		TestDirectories: testDirs,
		ConfigFiles:     configFiles,
		Dependencies:    deps,
		DevDependencies: devDeps,
		FileCount:       fileCount,
		TotalLines:      totalLines,
		IndexedAt:       time.Now().UTC(),
	}

	logger.Info("discovery complete",
		"project_type", projectType,
		"languages", len(languages),
		"services", len(services),
		"files", fileCount)

	return idx, nil
}

// walkTree collects every non-ignored file and test directory under root.
// Unreadable entries are skipped rather than failing the scan.
func (s *Scanner) walkTree(ctx context.Context, root string) ([]treeFile, []string, error) {
	ignore := s.ignoreSet()

	var files []treeFile
	var testDirs []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == root {
			return nil
		}

		name := d.Name()
		if ignore[name] {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if testDirNames[name] {
				testDirs = append(testDirs, rel)
			}
			return nil
		}

		files = append(files, treeFile{
			rel:  rel,
			name: name,
			ext:  strings.ToLower(filepath.Ext(name)),
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walking project tree: %w", err)
	}
	return files, testDirs, nil
}

func (s *Scanner) ignoreSet() map[string]bool {
	if len(s.IgnoreDirs) == 0 {
		return ignoredDirs
	}
	ignore := make(map[string]bool, len(ignoredDirs)+len(s.IgnoreDirs))
	for name := range ignoredDirs {
		ignore[name] = true
	}
	for _, name := range s.IgnoreDirs {
		ignore[name] = true
	}
	return ignore
}

func (s *Scanner) detectProjectType(root string) string {
	for _, marker := range []string{"lerna.json", "pnpm-workspace.yaml", "nx.json", "turbo.json"} {
		if fileExists(filepath.Join(root, marker)) {
			return "monorepo"
		}
	}
	if dirExists(filepath.Join(root, "packages")) || dirExists(filepath.Join(root, "apps")) {
		return "monorepo"
	}
	if fileExists(filepath.Join(root, "src", "index.ts")) || dirExists(filepath.Join(root, "lib")) {
		return "library"
	}
	return "application"
}

func (s *Scanner) detectLanguages(root string, files []treeFile) []string {
	extSeen := make(map[string]bool, len(files))
	for _, f := range files {
		extSeen[f.ext] = true
	}

	var detected []string
	for _, rule := range languageRules {
		found := false
		for _, ext := range rule.extensions {
			if extSeen[ext] {
				found = true
				break
			}
		}
		if !found {
			for _, marker := range rule.markers {
				if fileExists(filepath.Join(root, marker)) {
					found = true
					break
				}
			}
		}
		if found {
			detected = append(detected, rule.name)
		}
	}

	sort.Strings(detected)
	return detected
}

func (s *Scanner) detectFrameworks(root string) []string {
	var detected []string
	for _, rule := range frameworkRules {
		for _, name := range rule.files {
			path := filepath.Join(root, name)
			if !fileExists(path) {
				continue
			}
			if len(rule.contains) == 0 {
				detected = append(detected, rule.name)
				break
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if containsAny(string(data), rule.contains) {
				detected = append(detected, rule.name)
				break
			}
		}
	}

	sort.Strings(detected)
	return detected
}

// discoverServices maps monorepo member directories to services; projects
// without a monorepo layout get a single "root" service.
func (s *Scanner) discoverServices(root string, files []treeFile) map[string]ServiceInfo {
	var serviceDirs []string
	for _, parent := range []string{"packages", "apps", "services", "libs"} {
		entries, err := os.ReadDir(filepath.Join(root, parent))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
				serviceDirs = append(serviceDirs, filepath.Join(parent, entry.Name()))
			}
		}
	}

	services := make(map[string]ServiceInfo)

	if len(serviceDirs) == 0 {
		name := filepath.Base(root)
		if pkg := readPackageJSON(filepath.Join(root, "package.json")); pkg != nil && pkg.Name != "" {
			name = pkg.Name
		}
		services["root"] = ServiceInfo{
			Name:       name,
			Path:       ".",
			Language:   primaryLanguage(files, ""),
			EntryPoint: findServiceEntryPoint(root),
		}
		return services
	}

	for _, dir := range serviceDirs {
		rel := filepath.ToSlash(dir)
		services[filepath.Base(dir)] = ServiceInfo{
			Name:         filepath.Base(dir),
			Path:         rel,
			Language:     primaryLanguage(files, rel+"/"),
			EntryPoint:   findServiceEntryPoint(filepath.Join(root, dir)),
			Dependencies: serviceDependencies(filepath.Join(root, dir)),
		}
	}
	return services
}

// primaryLanguage picks the language with the most files under prefix. An
// empty prefix means the whole tree. Directories with no recognized source
// files report "unknown".
func primaryLanguage(files []treeFile, prefix string) string {
	counts := make(map[string]int, len(languageRules))
	for _, f := range files {
		if prefix != "" && !strings.HasPrefix(f.rel, prefix) {
			continue
		}
		counts[f.ext]++
	}

	best := "unknown"
	bestCount := 0
	for _, rule := range languageRules {
		total := 0
		for _, ext := range rule.extensions {
			total += counts[ext]
		}
		if total > bestCount {
			best = rule.name
			bestCount = total
		}
	}
	return best
}

func findServiceEntryPoint(dir string) string {
	for _, ep := range serviceEntryPoints {
		if fileExists(filepath.Join(dir, filepath.FromSlash(ep))) {
			return ep
		}
	}
	return ""
}

// serviceDependencies returns up to 20 direct dependencies from the
// service's package.json, sorted by name.
func serviceDependencies(dir string) []string {
	pkg := readPackageJSON(filepath.Join(dir, "package.json"))
	if pkg == nil || len(pkg.Dependencies) == 0 {
		return nil
	}
	deps := make([]string, 0, len(pkg.Dependencies))
	for name := range pkg.Dependencies {
		deps = append(deps, name)
	}
	sort.Strings(deps)
	if len(deps) > 20 {
		deps = deps[:20]
	}
	return deps
}

func (s *Scanner) findEntryPoints(root string) []string {
	patterns := []string{
		"src/index.*",
		"src/main.*",
		"index.*",
		"main.*",
		"app.*",
		"server.*",
		"cli.*",
	}

	var entryPoints []string
	for _, pattern := range patterns {
		for _, ext := range []string{"ts", "tsx", "js", "jsx", "py", "go", "rs"} {
			candidate := strings.Replace(pattern, "*", ext, 1)
			if fileExists(filepath.Join(root, filepath.FromSlash(candidate))) {
				entryPoints = append(entryPoints, candidate)
			}
		}
	}
	return entryPoints
}

func (s *Scanner) findConfigFiles(root string) []string {
	var configs []string
	for _, pattern := range configFilePatterns {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(root, m)
			if err != nil {
				continue
			}
			configs = append(configs, filepath.ToSlash(rel))
		}
	}
	return configs
}

// parseDependencies reads direct and development dependencies from
// package.json, pyproject.toml, and go.mod.
func (s *Scanner) parseDependencies(root string) (map[string]string, map[string]string) {
	deps := make(map[string]string)
	devDeps := make(map[string]string)

	if pkg := readPackageJSON(filepath.Join(root, "package.json")); pkg != nil {
		for name, version := range pkg.Dependencies {
			deps[name] = version
		}
		for name, version := range pkg.DevDependencies {
			devDeps[name] = version
		}
	}

	if data, err := os.ReadFile(filepath.Join(root, "pyproject.toml")); err == nil {
		if m := pyprojectDeps.FindStringSubmatch(string(data)); m != nil {
			for _, line := range strings.Split(m[1], "\n") {
				line = strings.Trim(strings.TrimSpace(line), `,"'`)
				if line == "" {
					continue
				}
				name := strings.SplitN(line, ">=", 2)[0]
				name = strings.SplitN(name, "==", 2)[0]
				deps[name] = "*"
			}
		}
	}

	if data, err := os.ReadFile(filepath.Join(root, "go.mod")); err == nil {
		parseGoModDeps(string(data), deps, devDeps)
	}

	if len(deps) == 0 {
		deps = nil
	}
	if len(devDeps) == 0 {
		devDeps = nil
	}
	return deps, devDeps
}

// parseGoModDeps adds go.mod requirements: direct requirements count as
// dependencies, "// indirect" ones as development dependencies.
func parseGoModDeps(content string, deps, devDeps map[string]string) {
	inBlock := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "require (":
			inBlock = true
			continue
		case inBlock && line == ")":
			inBlock = false
			continue
		}

		entry := line
		if !inBlock {
			if !strings.HasPrefix(line, "require ") {
				continue
			}
			entry = strings.TrimPrefix(line, "require ")
			if strings.HasPrefix(entry, "(") {
				continue
			}
		}

		fields := strings.Fields(entry)
		if len(fields) < 2 {
			continue
		}
		if strings.Contains(entry, "// indirect") {
			devDeps[fields[0]] = fields[1]
		} else {
			deps[fields[0]] = fields[1]
		}
	}
}

func (s *Scanner) countFilesAndLines(root string, files []treeFile) (int, int) {
	fileCount := 0
	totalLines := 0
	for _, f := range files {
		if !countedExtensions[f.ext] {
			continue
		}
		fileCount++
		if lines, err := countLines(filepath.Join(root, filepath.FromSlash(f.rel))); err == nil {
			totalLines += lines
		}
	}
	return fileCount, totalLines
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	count := 0
	var last byte
	seen := false
	for {
		n, err := f.Read(buf)
		if n > 0 {
			count += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
			seen = true
		}
		if err != nil {
			break
		}
	}
	if seen && last != '\n' {
		count++
	}
	return count, nil
}

// packageJSON is the subset of package.json discovery reads.
type packageJSON struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func readPackageJSON(path string) *packageJSON {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	return &pkg
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
