package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractKeywords(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		task string
		want []string
	}{
		"stop words dropped": {
			task: "fix the login redirect loop",
			want: []string{"login", "redirect", "loop"},
		},
		"camel case identifiers split": {
			task: "update UserProfile avatar",
			want: []string{"userprofile", "avatar", "user", "profile"},
		},
		"task verbs dropped": {
			task: "add a new validation helper to the form",
			want: []string{"new", "validation", "helper", "form"},
		},
		"duplicates removed": {
			task: "cache cache cache invalidation",
			want: []string{"cache", "invalidation"},
		},
		"empty task": {
			task: "",
			want: nil,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := ExtractKeywords(tc.task)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractKeywords_Capped(t *testing.T) {
	t.Parallel()

	words := make([]string, 35)
	for i := range words {
		words[i] = fmt.Sprintf("item%02d", i)
	}

	got := ExtractKeywords(strings.Join(words, " "))
	assert.Len(t, got, 30)
	assert.Equal(t, "item00", got[0])
}

func TestContextResolver_Resolve(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/auth/login.ts", `import { session } from "./session"

export function login(user: string) {
  return redirect("/dashboard")
}
`)
	writeFile(t, root, "src/auth/session.ts", `export const loginTimeout = 30

export function redirectAfterLogin() {}
`)
	writeFile(t, root, "src/auth/login.test.ts", "import { login } from \"./login\"\n")
	writeFile(t, root, "src/payments/checkout.ts", "export function checkout() {}\n")
	writeFile(t, root, "README.md", "# demo\n")

	resolver := &ContextResolver{ProjectDir: root}
	window, err := resolver.Resolve(context.Background(), "fix login redirect", nil)
	require.NoError(t, err)

	assert.Equal(t, "fix login redirect", window.TaskDescription)
	assert.False(t, window.CreatedAt.IsZero())

	// login.ts outranks everything; the test file keeps its modify reason but
	// its halved score sorts it last
	require.Len(t, window.FilesToModify, 2)
	assert.Equal(t, "src/auth/login.ts", window.FilesToModify[0].RelativePath)
	assert.Equal(t, "src/auth/login.test.ts", window.FilesToModify[1].RelativePath)
	assert.Equal(t, "Likely modification target (matches: login)",
		window.FilesToModify[0].ModificationReason)

	require.Len(t, window.FilesToReference, 1)
	assert.Equal(t, "src/auth/session.ts", window.FilesToReference[0].RelativePath)
	assert.Empty(t, window.FilesToReference[0].ModificationReason)

	assert.Equal(t, []string{"src/auth/login.test.ts"}, window.RelatedTests)
	assert.Equal(t, []string{"./session"}, window.DependencyGraph["src/auth/login.ts"])
	assert.Contains(t, window.FilesToModify[0].Exports, "login")
	assert.Equal(t, "typescript", window.FilesToModify[0].Language)
	assert.Greater(t, window.FilesToModify[0].RelevanceScore, window.FilesToModify[1].RelevanceScore)
}

func TestContextResolver_Resolve_ServiceScoping(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "packages/api/src/billing.ts", "export const billing = 1\n")
	writeFile(t, root, "packages/web/src/billing.ts", "export const billing = 2\n")

	idx := &ProjectIndex{
		ProjectType: "monorepo",
		Services: map[string]ServiceInfo{
			"api": {Name: "api", Path: "packages/api"},
			"web": {Name: "web", Path: "packages/web"},
		},
	}

	resolver := &ContextResolver{ProjectDir: root, Index: idx}
	window, err := resolver.Resolve(context.Background(), "update billing totals", []string{"api"})
	require.NoError(t, err)

	assert.Equal(t, []string{"api"}, window.ScopedServices)
	require.Len(t, window.FilesToModify, 1)
	assert.Equal(t, "packages/api/src/billing.ts", window.FilesToModify[0].RelativePath)
	assert.Empty(t, window.FilesToReference)
}

func TestContextResolver_Resolve_MaxFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a_login.ts", "export {}\n")
	writeFile(t, root, "b_login.ts", "export {}\n")

	resolver := &ContextResolver{ProjectDir: root, MaxFiles: 1}
	window, err := resolver.Resolve(context.Background(), "fix login", nil)
	require.NoError(t, err)

	total := len(window.FilesToModify) + len(window.FilesToReference)
	assert.Equal(t, 1, total)
	require.Len(t, window.FilesToModify, 1)
	assert.Equal(t, "a_login.ts", window.FilesToModify[0].RelativePath)
}

func TestContextResolver_Resolve_SkipsOversizedFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "login.ts", "export {}\n")
	writeFile(t, root, "login_big.ts", strings.Repeat("x", maxFileBytes+1))

	resolver := &ContextResolver{ProjectDir: root}
	window, err := resolver.Resolve(context.Background(), "fix login", nil)
	require.NoError(t, err)

	total := len(window.FilesToModify) + len(window.FilesToReference)
	assert.Equal(t, 1, total)
	require.Len(t, window.FilesToModify, 1)
	assert.Equal(t, "login.ts", window.FilesToModify[0].RelativePath)
}

func TestExtractImports(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content string
		suffix  string
		want    []string
	}{
		"typescript static and dynamic": {
			content: "import React from \"react\"\nimport { x } from \"./util\"\nconst y = import(\"./lazy\")\n",
			suffix:  ".ts",
			want:    []string{"react", "./util", "./lazy"},
		},
		"python from imports only": {
			content: "from app.models import User\nimport os\n",
			suffix:  ".py",
			want:    []string{"app.models"},
		},
		"go import": {
			content: "package main\n\nimport \"fmt\"\n",
			suffix:  ".go",
			want:    []string{"fmt"},
		},
		"unsupported suffix": {
			content: "import whatever\n",
			suffix:  ".rb",
			want:    nil,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, extractImports(tc.content, tc.suffix))
		})
	}
}

func TestExtractExports(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content string
		suffix  string
		want    []string
	}{
		"typescript named and default": {
			content: "export const version = \"1\"\nexport default app\n",
			suffix:  ".ts",
			want:    []string{"version", "default"},
		},
		"python __all__": {
			content: "__all__ = [\"login\", \"logout\"]\n",
			suffix:  ".py",
			want:    []string{"login", "logout"},
		},
		"nothing exported": {
			content: "const internal = 1\n",
			suffix:  ".ts",
			want:    nil,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, extractExports(tc.content, tc.suffix))
		})
	}
}

func TestFindRelatedTests(t *testing.T) {
	t.Parallel()

	files := []treeFile{
		{rel: "src/views.py", name: "views.py", ext: ".py"},
		{rel: "tests/test_views.py", name: "test_views.py", ext: ".py"},
		{rel: "internal/parser.go", name: "parser.go", ext: ".go"},
		{rel: "internal/parser_test.go", name: "parser_test.go", ext: ".go"},
		{rel: "docs/test_views.md", name: "test_views.md", ext: ".md"},
	}

	modify := []FileContext{
		{Path: "/work/src/views.py"},
		{Path: "/work/internal/parser.go"},
	}

	got := findRelatedTests(files, modify)
	assert.Equal(t, []string{"internal/parser_test.go", "tests/test_views.py"}, got)

	assert.Nil(t, findRelatedTests(files, nil))
}
