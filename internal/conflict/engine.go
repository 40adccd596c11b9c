// Package conflict assesses the risk that an incoming change collides with
// work already in flight on open review requests.
package conflict

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/codepulse/codepulse-go/internal/config"
	"github.com/codepulse/codepulse-go/internal/embedding"
	"github.com/codepulse/codepulse-go/internal/models"
)

// Store is the persistence slice the engine needs. LatestEmbedding returns
// the file's current semantic fingerprint, nil when none is recorded.
type Store interface {
	ListOpenReviewRequests(ctx context.Context, repoID string) ([]models.ReviewRequest, error)
	LatestEmbedding(ctx context.Context, repoID, path string) (*models.EmbeddingRecord, error)
}

// Engine scores structural and semantic overlap against open requests.
type Engine struct {
	cfg    config.ConflictConfig
	store  Store
	logger *slog.Logger
}

// NewEngine creates a conflict-risk engine.
func NewEngine(cfg config.ConflictConfig, store Store) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		logger: slog.Default().With("component", "conflict"),
	}
}

// Assess compares a changed-file set against every open review request.
// structuralOverlap is 1.0 exactly when the sets intersect; semanticOverlap
// is the maximum cosine similarity between any changed file's current
// embedding and any of the request's files' embeddings. The assessment's
// RiskScore is the maximum across requests.
func (e *Engine) Assess(ctx context.Context, repoID string, changedFiles []string) (*models.ConflictAssessment, error) {
	requests, err := e.store.ListOpenReviewRequests(ctx, repoID)
	if err != nil {
		return nil, err
	}

	changedVectors := e.loadVectors(ctx, repoID, changedFiles)
	changedSet := make(map[string]bool, len(changedFiles))
	for _, f := range changedFiles {
		changedSet[f] = true
	}

	assessment := &models.ConflictAssessment{
		RepoID:       repoID,
		ChangedFiles: changedFiles,
		AssessedAt:   time.Now().UTC(),
	}

	for _, req := range requests {
		risk := e.assessRequest(ctx, repoID, req, changedSet, changedVectors)
		assessment.Requests = append(assessment.Requests, risk)
		if risk.Risk > assessment.RiskScore {
			assessment.RiskScore = risk.Risk
		}
	}

	sort.Slice(assessment.Requests, func(i, j int) bool {
		return assessment.Requests[i].Risk > assessment.Requests[j].Risk
	})

	e.logger.Info("conflict assessment complete",
		"repo", repoID,
		"changed_files", len(changedFiles),
		"open_requests", len(requests),
		"max_risk", assessment.RiskScore)
	return assessment, nil
}

func (e *Engine) assessRequest(ctx context.Context, repoID string, req models.ReviewRequest, changedSet map[string]bool, changedVectors map[string][]float64) models.RequestRisk {
	var overlapping []string
	for _, f := range req.Files {
		if changedSet[f] {
			overlapping = append(overlapping, f)
		}
	}

	structural := 0.0
	if len(overlapping) > 0 {
		structural = 1.0
	}

	semantic := 0.0
	if len(changedVectors) > 0 {
		for _, reqFile := range req.Files {
			rec, err := e.store.LatestEmbedding(ctx, repoID, reqFile)
			if err != nil || rec == nil {
				continue
			}
			for _, vec := range changedVectors {
				sim := embedding.CosineSimilarity(vec, rec.Vector)
				if sim > semantic {
					semantic = sim
				}
			}
		}
	}
	if semantic > 1 {
		semantic = 1
	}

	risk := e.cfg.StructuralWeight*structural + e.cfg.SemanticWeight*semantic

	return models.RequestRisk{
		Number:            req.Number,
		Risk:              risk,
		StructuralOverlap: structural,
		SemanticOverlap:   semantic,
		OverlappingFiles:  overlapping,
		Conflicting:       risk >= e.cfg.BlockThreshold,
	}
}

func (e *Engine) loadVectors(ctx context.Context, repoID string, paths []string) map[string][]float64 {
	vectors := make(map[string][]float64, len(paths))
	for _, p := range paths {
		rec, err := e.store.LatestEmbedding(ctx, repoID, p)
		if err != nil || rec == nil {
			continue
		}
		vectors[p] = rec.Vector
	}
	return vectors
}
