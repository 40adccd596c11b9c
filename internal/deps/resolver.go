// Package deps resolves raw import strings to in-repository files,
// producing directed dependency edges.
package deps

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strings"

	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/models"
)

// EdgeStore is the slice of persistence the resolver needs.
type EdgeStore interface {
	SaveDependencyEdge(ctx context.Context, edge *models.DependencyEdge) error
	HasDependencyEdge(ctx context.Context, repoID, sourcePath, targetPath string) (bool, error)
}

// extensionsByLanguage lists candidate file extensions tried during
// resolution, most specific first.
var extensionsByLanguage = map[string][]string{
	"python":     {".py", ".pyi"},
	"javascript": {".js", ".jsx", ".mjs", ".cjs"},
	"typescript": {".ts", ".tsx", ".js", ".jsx"},
}

// indexNamesByLanguage lists directory index files per language.
var indexNamesByLanguage = map[string][]string{
	"python":     {"__init__.py"},
	"javascript": {"index.js", "index.jsx", "index.mjs"},
	"typescript": {"index.ts", "index.tsx", "index.js"},
}

var languageByExtension = map[string]string{
	".py":  "python",
	".pyi": "python",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
}

// LanguageForPath maps a file path to its analysis language, or "" for
// files outside the supported set.
func LanguageForPath(p string) string {
	return languageByExtension[path.Ext(p)]
}

// Resolver maps import strings to known repository files.
type Resolver struct {
	repoID string
	files  map[string]bool
	logger *slog.Logger
}

// NewResolver creates a resolver over the known file set, typically the
// tip-of-branch tree listing.
func NewResolver(repoID string, knownFiles []string) *Resolver {
	files := make(map[string]bool, len(knownFiles))
	for _, f := range knownFiles {
		files[f] = true
	}
	return &Resolver{
		repoID: repoID,
		files:  files,
		logger: slog.Default().With("component", "deps"),
	}
}

// Resolve maps one import to an in-repo path. The second return is false
// when the import is external or unresolvable; no edge should be created.
func (r *Resolver) Resolve(sourcePath, imp, language string) (string, bool) {
	if imp == "" {
		return "", false
	}

	if strings.HasPrefix(imp, "./") || strings.HasPrefix(imp, "../") {
		return r.resolveRelative(sourcePath, imp, language)
	}
	return r.resolveModule(imp, language)
}

// resolveRelative composes the import lexically against the source file's
// directory, rejecting anything that escapes the repository root.
func (r *Resolver) resolveRelative(sourcePath, imp, language string) (string, bool) {
	base := path.Join(path.Dir(sourcePath), imp)
	base = path.Clean(base)
	if base == ".." || strings.HasPrefix(base, "../") {
		return "", false
	}

	if r.files[base] {
		return base, true
	}
	for _, ext := range extensionsByLanguage[language] {
		if candidate := base + ext; r.files[candidate] {
			return candidate, true
		}
	}
	for _, index := range indexNamesByLanguage[language] {
		if candidate := path.Join(base, index); r.files[candidate] {
			return candidate, true
		}
	}
	return "", false
}

// resolveModule heuristically matches a non-relative import against the
// known file set. Python dotted modules become path segments. Preference
// order: exact basename-with-extension suffix match, then index file, else
// the import is treated as an external package.
func (r *Resolver) resolveModule(imp, language string) (string, bool) {
	modPath := imp
	if language == "python" {
		modPath = strings.ReplaceAll(imp, ".", "/")
	}

	var suffixMatches []string
	for _, ext := range extensionsByLanguage[language] {
		want := modPath + ext
		for f := range r.files {
			if f == want || strings.HasSuffix(f, "/"+want) {
				suffixMatches = append(suffixMatches, f)
			}
		}
		if len(suffixMatches) > 0 {
			// Shortest path is the least ambiguous match.
			sort.Slice(suffixMatches, func(i, j int) bool {
				return len(suffixMatches[i]) < len(suffixMatches[j])
			})
			return suffixMatches[0], true
		}
	}

	for _, index := range indexNamesByLanguage[language] {
		want := modPath + "/" + index
		var indexMatches []string
		for f := range r.files {
			if f == want || strings.HasSuffix(f, "/"+want) {
				indexMatches = append(indexMatches, f)
			}
		}
		if len(indexMatches) > 0 {
			sort.Slice(indexMatches, func(i, j int) bool {
				return len(indexMatches[i]) < len(indexMatches[j])
			})
			return indexMatches[0], true
		}
	}

	return "", false
}

// Edges resolves every import of one file into dependency edges.
// Self-referential resolutions are dropped as consistency errors.
func (r *Resolver) Edges(sourcePath string, imports []string, language string) []models.DependencyEdge {
	var edges []models.DependencyEdge
	for _, imp := range imports {
		target, ok := r.Resolve(sourcePath, imp, language)
		if !ok {
			continue
		}
		if target == sourcePath {
			r.logger.Debug("dropping self-referential edge",
				"path", sourcePath, "import", imp,
				"error", pkgerrors.Consistency("import %q resolves to its own file", imp))
			continue
		}
		edges = append(edges, models.DependencyEdge{
			RepoID:     r.repoID,
			SourcePath: sourcePath,
			TargetPath: target,
			EdgeType:   "import",
			Strength:   1.0,
		})
	}
	return edges
}

// Reconcile re-resolves every file's imports against the tip-of-branch file
// set, adding only edges missing for a (source,target) pair. This catches
// edges whose target file was created by a commit later than the one that
// introduced the import. Existing edges keep their recorded type and
// strength untouched.
func (r *Resolver) Reconcile(ctx context.Context, store EdgeStore, imports map[string]FileImports) (int, error) {
	added := 0
	for sourcePath, fi := range imports {
		for _, edge := range r.Edges(sourcePath, fi.Imports, fi.Language) {
			exists, err := store.HasDependencyEdge(ctx, r.repoID, edge.SourcePath, edge.TargetPath)
			if err != nil {
				return added, err
			}
			if exists {
				continue
			}
			e := edge
			if err := store.SaveDependencyEdge(ctx, &e); err != nil {
				return added, err
			}
			added++
		}
	}
	r.logger.Info("dependency reconciliation complete", "repo", r.repoID, "edges_added", added)
	return added, nil
}

// FileImports carries the parsed imports of one file for reconciliation.
type FileImports struct {
	Language string
	Imports  []string
}
