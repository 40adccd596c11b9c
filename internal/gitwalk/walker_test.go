package gitwalk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeBranches(t *testing.T) {
	tests := []struct {
		name string
		refs []string
		want []string
	}{
		{
			name: "local and remote tracking collapse",
			refs: []string{"main", "origin/main", "origin/feature-x"},
			want: []string{"main", "feature-x"},
		},
		{
			name: "symbolic HEAD excluded",
			refs: []string{"origin/HEAD", "HEAD", "main"},
			want: []string{"main"},
		},
		{
			name: "blank lines ignored",
			refs: []string{"", "develop", ""},
			want: []string{"develop"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dedupeBranches(tt.refs))
		})
	}
}

func TestParseLog(t *testing.T) {
	output := "\x1e" +
		"abc123|def456|Alice|ALICE@example.com|2024-03-01T10:00:00Z|add parser\n" +
		"10\t2\tsrc/parser.py\n" +
		"5\t0\tsrc/util.py\n" +
		"\x1e" +
		"def456||Bob|bob@example.com|2024-02-20T09:00:00Z|initial commit\n" +
		"100\t0\tsrc/parser.py\n" +
		"-\t-\tassets/logo.png\n"

	w := NewWalker(".")
	entries, skipped := w.parseLog("repo-1", "main", output)

	require.Len(t, entries, 2)
	assert.Equal(t, 0, skipped)

	first := entries[0]
	assert.Equal(t, "abc123", first.Commit.SHA)
	assert.Equal(t, "alice@example.com", first.Commit.AuthorEmail)
	assert.Equal(t, 1, first.Commit.ParentCount)
	assert.Equal(t, "main", first.Commit.Branch)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), first.Commit.Timestamp)
	require.Len(t, first.Changes, 2)
	assert.Equal(t, 10, first.Changes[0].Additions)
	assert.Equal(t, 2, first.Changes[0].Deletions)
	assert.Equal(t, "src/parser.py", first.Changes[0].Path)

	// Root commit: no parents, binary file excluded.
	root := entries[1]
	assert.Equal(t, 0, root.Commit.ParentCount)
	require.Len(t, root.Changes, 1)
	assert.Equal(t, 100, root.Changes[0].Additions)
}

func TestParseLogSkipsMalformedRecords(t *testing.T) {
	output := "\x1e" +
		"not-a-valid-header\n" +
		"\x1e" +
		"abc123||Alice|alice@example.com|2024-03-01T10:00:00Z|ok\n" +
		"1\t1\ta.py\n"

	w := NewWalker(".")
	entries, skipped := w.parseLog("repo-1", "main", output)

	require.Len(t, entries, 1)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "abc123", entries[0].Commit.SHA)
}

func TestParseLogPathsWithSpaces(t *testing.T) {
	output := "\x1e" +
		"abc123||Alice|alice@example.com|2024-03-01T10:00:00Z|rename\n" +
		"3\t1\tdocs/release notes.md\n"

	w := NewWalker(".")
	entries, _ := w.parseLog("repo-1", "main", output)

	require.Len(t, entries, 1)
	require.Len(t, entries[0].Changes, 1)
	assert.Equal(t, "docs/release notes.md", entries[0].Changes[0].Path)
}
