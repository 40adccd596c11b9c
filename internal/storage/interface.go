package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/codepulse/codepulse-go/internal/models"
)

// Store is the durable persistence surface shared by the ingestion,
// attribution, detection, and pipeline layers. SQLite backs local runs,
// PostgreSQL backs the service deployment; both honor the same contract.
//
// Missing-row reads return a KindNotFound error except where noted:
// embedding lookups return (nil, nil) so callers can treat an absent
// vector as "no prior state" without an error branch.
type Store interface {
	// Repository operations
	SaveRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, repoID string) (*models.Repository, error)
	SetRepositoryStatus(ctx context.Context, repoID string, status models.RepoStatus) error

	// Commit operations. SaveCommits is idempotent on SHA and records
	// branch membership for commits that carry a branch name.
	SaveCommits(ctx context.Context, commits []*models.Commit) error
	HasCommit(ctx context.Context, repoID, sha string) (bool, error)
	LatestCommitTime(ctx context.Context, repoID string) (time.Time, error)
	CommitCountsByAuthor(ctx context.Context, repoID string) (map[string]int, error)

	// File change operations. SaveFileChange upserts on (commit, path).
	SaveFileChange(ctx context.Context, change *models.FileChange) error
	ListFileChanges(ctx context.Context, repoID string) ([]models.FileChange, error)
	ListFileChangesForPaths(ctx context.Context, repoID string, paths []string) ([]models.FileChange, error)

	// Dependency edge operations
	SaveDependencyEdge(ctx context.Context, edge *models.DependencyEdge) error
	HasDependencyEdge(ctx context.Context, repoID, sourcePath, targetPath string) (bool, error)
	ListDependencyEdges(ctx context.Context, repoID string) ([]models.DependencyEdge, error)

	// Embedding log operations. The log is append-only per (path, commit);
	// "latest" is decided by commit timestamp, not insertion order.
	SaveEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error
	LatestEmbedding(ctx context.Context, repoID, path string) (*models.EmbeddingRecord, error)
	LatestEmbeddingBefore(ctx context.Context, repoID, path string, before time.Time) (*models.EmbeddingRecord, error)
	TwoLatestEmbeddings(ctx context.Context, repoID, path string, atOrBefore time.Time) ([]models.EmbeddingRecord, error)

	// Ownership operations
	AddOwnershipDelta(ctx context.Context, repoID, path, authorEmail string, delta float64) error
	ListOwnershipDeltas(ctx context.Context, repoID string) ([]models.OwnershipDelta, error)
	ReplaceOwnershipShares(ctx context.Context, repoID, path string, shares []models.OwnershipShare) error
	ListOwnershipShares(ctx context.Context, repoID, path string) ([]models.OwnershipShare, error)

	// Replacement event operations
	SaveReplacementEvent(ctx context.Context, event *models.ReplacementEvent) error
	DeleteReplacementEvents(ctx context.Context, repoID string) error
	ListReplacementEvents(ctx context.Context, repoID string, since time.Time) ([]models.ReplacementEvent, error)

	// Contributor score operations
	SaveContributorScores(ctx context.Context, scores []models.ContributorScore) error
	ListContributorScores(ctx context.Context, repoID string) ([]models.ContributorScore, error)

	// Review request operations
	UpsertReviewRequest(ctx context.Context, req *models.ReviewRequest) error
	ListOpenReviewRequests(ctx context.Context, repoID string) ([]models.ReviewRequest, error)

	// Queue operations. ClaimNext atomically flips the oldest pending
	// item to processing; concurrent claimers never receive the same item.
	// It returns (nil, nil) when the queue is empty.
	Enqueue(ctx context.Context, item *models.QueueItem) error
	ClaimNext(ctx context.Context) (*models.QueueItem, error)
	MarkStatus(ctx context.Context, id string, status models.QueueStatus, attempts int, lastError string) error

	Close() error
}

func encodeVector(v []float64) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeVector(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodePaths(paths []string) (string, error) {
	b, err := json.Marshal(paths)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodePaths(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(s), &paths); err != nil {
		return nil, err
	}
	return paths, nil
}
