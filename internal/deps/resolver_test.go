package deps

import (
	"context"
	"fmt"
	"testing"

	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *Resolver {
	return NewResolver("repo-1", []string{
		"src/app.py",
		"src/util/helpers.py",
		"src/util/__init__.py",
		"web/components/Button.tsx",
		"web/components/index.ts",
		"web/api/client.ts",
	})
}

func TestResolveRelative(t *testing.T) {
	r := newTestResolver()

	tests := []struct {
		name     string
		source   string
		imp      string
		language string
		want     string
		ok       bool
	}{
		{"sibling with extension added", "src/app.py", "./util/helpers", "python", "src/util/helpers.py", true},
		{"parent directory", "src/util/helpers.py", "../app", "python", "src/app.py", true},
		{"directory index", "web/api/client.ts", "../components", "typescript", "web/components/index.ts", true},
		{"escapes repository root", "src/app.py", "../../etc/passwd", "python", "", false},
		{"missing target", "src/app.py", "./nonexistent", "python", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.source, tt.imp, tt.language)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveModule(t *testing.T) {
	r := newTestResolver()

	// Dotted python module resolves via suffix match.
	got, ok := r.Resolve("src/app.py", "util.helpers", "python")
	require.True(t, ok)
	assert.Equal(t, "src/util/helpers.py", got)

	// Package import falls back to the index file.
	got, ok = r.Resolve("src/app.py", "util", "python")
	require.True(t, ok)
	assert.Equal(t, "src/util/__init__.py", got)

	// External package creates no edge.
	_, ok = r.Resolve("src/app.py", "numpy", "python")
	assert.False(t, ok)
}

func TestEdgesDropsSelfReference(t *testing.T) {
	r := newTestResolver()

	edges := r.Edges("src/util/helpers.py", []string{"util.helpers", "util"}, "python")
	require.Len(t, edges, 1)
	assert.Equal(t, "src/util/__init__.py", edges[0].TargetPath)
	assert.Equal(t, "import", edges[0].EdgeType)
}

type fakeEdgeStore struct {
	existing map[string]bool
	saved    []models.DependencyEdge
}

func edgeKey(source, target string) string { return fmt.Sprintf("%s->%s", source, target) }

func (f *fakeEdgeStore) SaveDependencyEdge(_ context.Context, edge *models.DependencyEdge) error {
	f.saved = append(f.saved, *edge)
	f.existing[edgeKey(edge.SourcePath, edge.TargetPath)] = true
	return nil
}

func (f *fakeEdgeStore) HasDependencyEdge(_ context.Context, _, source, target string) (bool, error) {
	return f.existing[edgeKey(source, target)], nil
}

func TestReconcileAddsOnlyMissingEdges(t *testing.T) {
	r := newTestResolver()
	store := &fakeEdgeStore{existing: map[string]bool{
		edgeKey("src/app.py", "src/util/helpers.py"): true,
	}}

	added, err := r.Reconcile(context.Background(), store, map[string]FileImports{
		"src/app.py": {Language: "python", Imports: []string{"util.helpers", "util"}},
	})
	require.NoError(t, err)

	// helpers edge existed already; only the package edge is new.
	assert.Equal(t, 1, added)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "src/util/__init__.py", store.saved[0].TargetPath)
}
