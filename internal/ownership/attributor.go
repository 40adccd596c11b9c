// Package ownership attributes semantic change in files to contributors
// and normalizes the accumulated deltas into ownership shares.
package ownership

import (
	"context"
	"log/slog"
	"time"

	"github.com/codepulse/codepulse-go/internal/embedding"
	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/codepulse/codepulse-go/internal/parser"
	"github.com/google/uuid"
)

// Store is the persistence the attributor needs. Running totals are
// written on every accumulation so a crashed run resumes instead of
// silently losing attribution.
type Store interface {
	AddOwnershipDelta(ctx context.Context, repoID, path, authorEmail string, delta float64) error
	ListOwnershipDeltas(ctx context.Context, repoID string) ([]models.OwnershipDelta, error)
	ReplaceOwnershipShares(ctx context.Context, repoID, path string, shares []models.OwnershipShare) error
	SaveEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error
	LatestEmbeddingBefore(ctx context.Context, repoID, path string, before time.Time) (*models.EmbeddingRecord, error)
}

// Attributor accumulates per-author semantic deltas per file.
type Attributor struct {
	store   Store
	gateway embedding.Gateway
	parser  parser.Service
	logger  *slog.Logger
}

// NewAttributor creates an attributor.
func NewAttributor(store Store, gateway embedding.Gateway, parserSvc parser.Service) *Attributor {
	return &Attributor{
		store:   store,
		gateway: gateway,
		parser:  parserSvc,
		logger:  slog.Default().With("component", "ownership"),
	}
}

// ProcessChange ingests one file change: parses the file's content at the
// commit into function chunks, embeds each chunk, and accumulates the
// Euclidean distance between consecutive embeddings as the author's
// semantic delta. An embedding failure excludes only that chunk; a parse
// failure excludes only this file's contribution.
func (a *Attributor) ProcessChange(ctx context.Context, change models.FileChange, code, language string) error {
	parsed, err := a.parser.Parse(ctx, code, language)
	if err != nil {
		if pkgerrors.IsTransient(err) || pkgerrors.IsKind(err, pkgerrors.KindNotFound) {
			a.logger.Warn("parse failed, excluding file from this step",
				"path", change.Path, "commit", change.CommitSHA, "error", err)
			return nil
		}
		return err
	}
	if len(parsed.Functions) == 0 {
		return nil
	}

	prev, err := a.store.LatestEmbeddingBefore(ctx, change.RepoID, change.Path, change.Timestamp)
	if err != nil {
		return err
	}
	var prevVector []float64
	if prev != nil {
		prevVector = prev.Vector
	}

	for _, fn := range parsed.Functions {
		vec, err := a.gateway.Embed(ctx, fn.Body)
		if err != nil {
			a.logger.Warn("embedding failed, excluding chunk from delta accounting",
				"path", change.Path, "function", fn.Name, "error", err)
			continue
		}

		if prevVector != nil {
			delta := embedding.EuclideanDistance(vec, prevVector)
			if delta > 0 {
				if err := a.store.AddOwnershipDelta(ctx, change.RepoID, change.Path, change.AuthorEmail, delta); err != nil {
					return err
				}
			}
		}

		rec := &models.EmbeddingRecord{
			ID:         uuid.NewString(),
			RepoID:     change.RepoID,
			Path:       change.Path,
			CommitSHA:  change.CommitSHA,
			CommitTime: change.Timestamp,
			Vector:     vec,
			SourceText: fn.Body,
			CreatedAt:  time.Now().UTC(),
		}
		if err := a.store.SaveEmbedding(ctx, rec); err != nil {
			return err
		}
		prevVector = vec
	}

	return nil
}

// Normalize turns the accumulated per-author deltas into ownership shares
// summing to 1.0 per file. A file whose deltas sum to zero produces no
// shares.
func (a *Attributor) Normalize(ctx context.Context, repoID string) (int, error) {
	deltas, err := a.store.ListOwnershipDeltas(ctx, repoID)
	if err != nil {
		return 0, err
	}

	byPath := make(map[string][]models.OwnershipDelta)
	for _, d := range deltas {
		byPath[d.Path] = append(byPath[d.Path], d)
	}

	filesScored := 0
	for path, fileDeltas := range byPath {
		var total float64
		for _, d := range fileDeltas {
			total += d.TotalDelta
		}
		if total == 0 {
			continue
		}

		shares := make([]models.OwnershipShare, 0, len(fileDeltas))
		for _, d := range fileDeltas {
			shares = append(shares, models.OwnershipShare{
				RepoID:      repoID,
				Path:        path,
				AuthorEmail: d.AuthorEmail,
				Score:       d.TotalDelta / total,
			})
		}
		if err := a.store.ReplaceOwnershipShares(ctx, repoID, path, shares); err != nil {
			return filesScored, err
		}
		filesScored++
	}

	a.logger.Info("ownership shares normalized", "repo", repoID, "files", filesScored)
	return filesScored, nil
}
