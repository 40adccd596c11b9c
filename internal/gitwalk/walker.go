// Package gitwalk enumerates branches and commits of a local repository
// clone, yielding ordered commit facts with per-file add/delete counts.
package gitwalk

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/models"
)

// Entry pairs one commit fact with the file changes of its first-parent diff.
type Entry struct {
	Commit  models.Commit
	Changes []models.FileChange
}

// Walker reads history from a repository working copy via the git CLI.
type Walker struct {
	repoPath string
	logger   *slog.Logger
}

// NewWalker creates a walker for the repository at repoPath.
func NewWalker(repoPath string) *Walker {
	return &Walker{
		repoPath: repoPath,
		logger:   slog.Default().With("component", "gitwalk"),
	}
}

// Branches lists branch names with local and remote-tracking refs deduplicated.
// A remote ref origin/x collapses into local x when both exist; symbolic HEAD
// refs are excluded.
func (w *Walker) Branches(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "for-each-ref",
		"--format=%(refname:short)", "refs/heads", "refs/remotes")
	cmd.Dir = w.repoPath

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, pkgerrors.Fatal(fmt.Sprintf("git for-each-ref failed (output: %s)", output), err)
	}

	return dedupeBranches(strings.Split(strings.TrimSpace(string(output)), "\n")), nil
}

// dedupeBranches collapses remote-tracking refs onto their local names and
// drops symbolic HEAD entries.
func dedupeBranches(refs []string) []string {
	seen := make(map[string]bool)
	var branches []string
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || ref == "HEAD" || strings.HasSuffix(ref, "/HEAD") {
			continue
		}
		name := ref
		if idx := strings.Index(ref, "/"); idx > 0 && strings.HasPrefix(ref, "origin/") {
			name = ref[idx+1:]
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		branches = append(branches, name)
	}
	return branches
}

// Walk returns the full ordered history of one branch, oldest first. Line
// counts come from the diff against the first parent; a parentless commit
// diffs against the empty tree, so it adds every file it carries. A commit
// whose header fails to parse is logged and skipped; the walk continues.
func (w *Walker) Walk(ctx context.Context, repoID, branch string) ([]Entry, error) {
	cmd := exec.CommandContext(ctx, "git", "log",
		"--reverse",
		"--numstat",
		"--diff-merges=first-parent",
		"--pretty=format:\x1e%H|%P|%an|%ae|%aI|%s",
		branch)
	cmd.Dir = w.repoPath

	output, err := cmd.Output()
	if err != nil {
		return nil, pkgerrors.Fatal(fmt.Sprintf("git log failed for branch %s", branch), err)
	}

	entries, skipped := w.parseLog(repoID, branch, string(output))
	if skipped > 0 {
		w.logger.Warn("skipped unreadable commits", "branch", branch, "count", skipped)
	}
	return entries, nil
}

// ChangedSince lists the paths touched by commits after the given SHA on a
// branch, used for incremental re-walks of a push.
func (w *Walker) ChangedSince(ctx context.Context, branch, sinceSHA string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", sinceSHA, branch)
	cmd.Dir = w.repoPath

	output, err := cmd.Output()
	if err != nil {
		return nil, pkgerrors.Transient(fmt.Sprintf("git diff %s..%s failed", sinceSHA, branch), err)
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// FileAt reads the blob content of path at the given commit.
func (w *Walker) FileAt(ctx context.Context, sha, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "show", fmt.Sprintf("%s:%s", sha, path))
	cmd.Dir = w.repoPath

	output, err := cmd.Output()
	if err != nil {
		return "", pkgerrors.NotFound("blob %s at %s not readable: %v", path, shortSHA(sha), err)
	}
	return string(output), nil
}

// ListFiles returns every path in a commit's tree.
func (w *Walker) ListFiles(ctx context.Context, sha string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-tree", "-r", "--name-only", sha)
	cmd.Dir = w.repoPath

	output, err := cmd.Output()
	if err != nil {
		return nil, pkgerrors.NotFound("tree %s not readable: %v", shortSHA(sha), err)
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// parseLog parses the record-separated git log output. Returns parsed
// entries and the count of skipped malformed records.
func (w *Walker) parseLog(repoID, branch, output string) ([]Entry, int) {
	var entries []Entry
	skipped := 0

	for _, record := range strings.Split(output, "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		entry, err := parseRecord(repoID, branch, record)
		if err != nil {
			w.logger.Warn("skipping unreadable commit record", "branch", branch, "error", err)
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped
}

func parseRecord(repoID, branch, record string) (Entry, error) {
	scanner := bufio.NewScanner(strings.NewReader(record))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return Entry{}, fmt.Errorf("empty record")
	}
	header := scanner.Text()

	parts := strings.SplitN(header, "|", 6)
	if len(parts) != 6 {
		return Entry{}, fmt.Errorf("malformed header %q", header)
	}

	timestamp, err := time.Parse(time.RFC3339, parts[4])
	if err != nil {
		return Entry{}, fmt.Errorf("bad timestamp %q: %w", parts[4], err)
	}

	parentCount := 0
	if p := strings.TrimSpace(parts[1]); p != "" {
		parentCount = len(strings.Fields(p))
	}

	commit := models.Commit{
		SHA:         parts[0],
		RepoID:      repoID,
		Author:      parts[2],
		AuthorEmail: strings.ToLower(parts[3]),
		Message:     parts[5],
		Timestamp:   timestamp,
		ParentCount: parentCount,
		Branch:      branch,
	}

	var changes []models.FileChange
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		// Binary files report "-" counts; they carry no line churn.
		if fields[0] == "-" || fields[1] == "-" {
			continue
		}

		additions, _ := strconv.Atoi(fields[0])
		deletions, _ := strconv.Atoi(fields[1])

		changes = append(changes, models.FileChange{
			CommitSHA:   commit.SHA,
			RepoID:      repoID,
			Path:        strings.Join(fields[2:], " "),
			Additions:   additions,
			Deletions:   deletions,
			Author:      commit.Author,
			AuthorEmail: commit.AuthorEmail,
			Message:     commit.Message,
			Timestamp:   commit.Timestamp,
		})
	}

	return Entry{Commit: commit, Changes: changes}, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
