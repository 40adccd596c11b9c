package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRepo(t *testing.T, store *SQLiteStore, id string) {
	t.Helper()
	err := store.SaveRepository(context.Background(), &models.Repository{
		ID:            id,
		Owner:         "acme",
		Name:          "widget",
		FullName:      "acme/widget",
		DefaultBranch: "main",
		Status:        models.RepoStatusPending,
		CreatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestRepositoryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRepo(t, store, "repo-1")

	repo, err := store.GetRepository(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, "acme/widget", repo.FullName)
	assert.Equal(t, models.RepoStatusPending, repo.Status)

	require.NoError(t, store.SetRepositoryStatus(ctx, "repo-1", models.RepoStatusReady))
	repo, err = store.GetRepository(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, models.RepoStatusReady, repo.Status)

	_, err = store.GetRepository(ctx, "missing")
	assert.Error(t, err)
}

func TestSaveCommitsIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRepo(t, store, "repo-1")

	commits := []*models.Commit{
		{SHA: "aaa", RepoID: "repo-1", Author: "Alice", AuthorEmail: "alice@example.com",
			Message: "initial", Timestamp: time.Now().UTC().Add(-time.Hour), Branch: "main"},
		{SHA: "bbb", RepoID: "repo-1", Author: "Bob", AuthorEmail: "bob@example.com",
			Message: "second", Timestamp: time.Now().UTC(), Branch: "main"},
	}
	require.NoError(t, store.SaveCommits(ctx, commits))
	require.NoError(t, store.SaveCommits(ctx, commits))

	counts, err := store.CommitCountsByAuthor(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice@example.com": 1, "bob@example.com": 1}, counts)

	has, err := store.HasCommit(ctx, "repo-1", "aaa")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasCommit(ctx, "repo-1", "zzz")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFileChangeUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRepo(t, store, "repo-1")

	change := &models.FileChange{
		CommitSHA: "aaa", RepoID: "repo-1", Path: "src/a.py",
		Additions: 10, Deletions: 2,
		AuthorEmail: "alice@example.com", Timestamp: time.Now().UTC(),
	}
	require.NoError(t, store.SaveFileChange(ctx, change))

	change.Additions = 12
	require.NoError(t, store.SaveFileChange(ctx, change))

	changes, err := store.ListFileChanges(ctx, "repo-1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 12, changes[0].Additions)

	subset, err := store.ListFileChangesForPaths(ctx, "repo-1", []string{"src/a.py", "src/missing.py"})
	require.NoError(t, err)
	assert.Len(t, subset, 1)

	empty, err := store.ListFileChangesForPaths(ctx, "repo-1", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEmbeddingOrderingByCommitTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRepo(t, store, "repo-1")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	// Inserted out of order; commit_time decides recency.
	records := []*models.EmbeddingRecord{
		{ID: "e2", RepoID: "repo-1", Path: "src/a.py", CommitSHA: "bbb",
			CommitTime: base.Add(24 * time.Hour), Vector: []float64{0, 1}, CreatedAt: base},
		{ID: "e1", RepoID: "repo-1", Path: "src/a.py", CommitSHA: "aaa",
			CommitTime: base, Vector: []float64{1, 0}, CreatedAt: base},
		{ID: "e3", RepoID: "repo-1", Path: "src/a.py", CommitSHA: "ccc",
			CommitTime: base.Add(48 * time.Hour), Vector: []float64{1, 1}, CreatedAt: base},
	}
	for _, rec := range records {
		require.NoError(t, store.SaveEmbedding(ctx, rec))
	}

	latest, err := store.LatestEmbedding(ctx, "repo-1", "src/a.py")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "ccc", latest.CommitSHA)
	assert.Equal(t, []float64{1, 1}, latest.Vector)

	// Strictly before: an embedding at the boundary is excluded.
	prev, err := store.LatestEmbeddingBefore(ctx, "repo-1", "src/a.py", base.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "aaa", prev.CommitSHA)

	two, err := store.TwoLatestEmbeddings(ctx, "repo-1", "src/a.py", base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "bbb", two[0].CommitSHA)
	assert.Equal(t, "aaa", two[1].CommitSHA)

	none, err := store.LatestEmbedding(ctx, "repo-1", "src/other.py")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestOwnershipDeltaAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRepo(t, store, "repo-1")

	require.NoError(t, store.AddOwnershipDelta(ctx, "repo-1", "src/a.py", "alice@example.com", 1.5))
	require.NoError(t, store.AddOwnershipDelta(ctx, "repo-1", "src/a.py", "alice@example.com", 0.5))
	require.NoError(t, store.AddOwnershipDelta(ctx, "repo-1", "src/a.py", "bob@example.com", 1.0))

	deltas, err := store.ListOwnershipDeltas(ctx, "repo-1")
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.InDelta(t, 2.0, deltas[0].TotalDelta, 1e-9)
	assert.InDelta(t, 1.0, deltas[1].TotalDelta, 1e-9)

	shares := []models.OwnershipShare{
		{RepoID: "repo-1", Path: "src/a.py", AuthorEmail: "alice@example.com", Score: 2.0 / 3.0},
		{RepoID: "repo-1", Path: "src/a.py", AuthorEmail: "bob@example.com", Score: 1.0 / 3.0},
	}
	require.NoError(t, store.ReplaceOwnershipShares(ctx, "repo-1", "src/a.py", shares))
	// Replacing again must not duplicate rows.
	require.NoError(t, store.ReplaceOwnershipShares(ctx, "repo-1", "src/a.py", shares))

	got, err := store.ListOwnershipShares(ctx, "repo-1", "src/a.py")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice@example.com", got[0].AuthorEmail)
}

func TestReplacementEventUpsertAndWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRepo(t, store, "repo-1")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &models.ReplacementEvent{
		ID: "ev-1", RepoID: "repo-1", Path: "src/a.py",
		OriginalCommit: "aaa", ReplacementCommit: "bbb",
		OriginalAuthor: "alice@example.com", ReplacementAuthor: "bob@example.com",
		EventScore: 0.5, ReplacedAt: base, CreatedAt: base,
	}
	require.NoError(t, store.SaveReplacementEvent(ctx, event))

	// Recomputing the same pair updates the score in place.
	event.EventScore = 0.6
	require.NoError(t, store.SaveReplacementEvent(ctx, event))

	events, err := store.ListReplacementEvents(ctx, "repo-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 0.6, events[0].EventScore, 1e-9)

	windowed, err := store.ListReplacementEvents(ctx, "repo-1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, windowed)

	require.NoError(t, store.DeleteReplacementEvents(ctx, "repo-1"))
	events, err = store.ListReplacementEvents(ctx, "repo-1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReviewRequestsFilterByState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRepo(t, store, "repo-1")

	open := &models.ReviewRequest{
		RepoID: "repo-1", Number: 7, Title: "add parser", State: "open",
		HeadSHA: "abc", Files: []string{"src/a.py", "src/b.py"}, UpdatedAt: time.Now().UTC(),
	}
	closed := &models.ReviewRequest{
		RepoID: "repo-1", Number: 8, Title: "old work", State: "closed",
		Files: []string{"src/c.py"}, UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.UpsertReviewRequest(ctx, open))
	require.NoError(t, store.UpsertReviewRequest(ctx, closed))

	requests, err := store.ListOpenReviewRequests(ctx, "repo-1")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, 7, requests[0].Number)
	assert.Equal(t, []string{"src/a.py", "src/b.py"}, requests[0].Files)

	// Closing the open request removes it from the open set.
	open.State = "closed"
	require.NoError(t, store.UpsertReviewRequest(ctx, open))
	requests, err = store.ListOpenReviewRequests(ctx, "repo-1")
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestQueueClaimLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRepo(t, store, "repo-1")

	now := time.Now().UTC()
	first := &models.QueueItem{
		ID: "q-1", RepoID: "repo-1", Kind: "push", Payload: []byte(`{"ref":"main"}`),
		Status: models.QueueStatusPending, CreatedAt: now.Add(-time.Minute), UpdatedAt: now.Add(-time.Minute),
	}
	second := &models.QueueItem{
		ID: "q-2", RepoID: "repo-1", Kind: "push", Payload: []byte(`{"ref":"main"}`),
		Status: models.QueueStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Enqueue(ctx, first))
	require.NoError(t, store.Enqueue(ctx, second))

	claimed, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "q-1", claimed.ID)
	assert.Equal(t, models.QueueStatusProcessing, claimed.Status)

	// A claimed item is invisible to the next claimer.
	next, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "q-2", next.ID)

	empty, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	require.NoError(t, store.MarkStatus(ctx, "q-1", models.QueueStatusCompleted, 1, ""))
	require.NoError(t, store.MarkStatus(ctx, "q-2", models.QueueStatusFailed, 3, "parse service unavailable"))

	err = store.MarkStatus(ctx, "missing", models.QueueStatusCompleted, 1, "")
	assert.Error(t, err)
}

func TestDependencyEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedRepo(t, store, "repo-1")

	edge := &models.DependencyEdge{
		RepoID: "repo-1", SourcePath: "src/a.py", TargetPath: "src/b.py",
		EdgeType: "import", Strength: 1.0,
	}
	require.NoError(t, store.SaveDependencyEdge(ctx, edge))
	require.NoError(t, store.SaveDependencyEdge(ctx, edge))

	has, err := store.HasDependencyEdge(ctx, "repo-1", "src/a.py", "src/b.py")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasDependencyEdge(ctx, "repo-1", "src/b.py", "src/a.py")
	require.NoError(t, err)
	assert.False(t, has)

	edges, err := store.ListDependencyEdges(ctx, "repo-1")
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}
