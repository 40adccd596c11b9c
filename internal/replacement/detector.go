// Package replacement detects transitions where one contributor's code in
// a file is displaced by another's in a way that indicates destabilization,
// and aggregates those events into per-contributor instability scores.
package replacement

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/codepulse/codepulse-go/internal/config"
	"github.com/codepulse/codepulse-go/internal/embedding"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/google/uuid"
)

// Store is the persistence slice the detector needs.
type Store interface {
	ListFileChanges(ctx context.Context, repoID string) ([]models.FileChange, error)
	ListFileChangesForPaths(ctx context.Context, repoID string, paths []string) ([]models.FileChange, error)
	TwoLatestEmbeddings(ctx context.Context, repoID, path string, atOrBefore time.Time) ([]models.EmbeddingRecord, error)
	DeleteReplacementEvents(ctx context.Context, repoID string) error
	SaveReplacementEvent(ctx context.Context, event *models.ReplacementEvent) error
}

var (
	// refactorPattern marks intentional non-destructive changes; a match
	// on the replacing commit's message suppresses the event.
	refactorPattern = regexp.MustCompile(`(?i)\b(refactor|refactoring|cleanup|clean up|reformat|formatting|lint|style|typo|rename)\b`)

	revertPattern = regexp.MustCompile(`(?i)\b(revert|rollback|roll back|back out|backout)\b`)
	fixPattern    = regexp.MustCompile(`(?i)\b(fix|fixes|fixed|bug|patch|hotfix)\b`)
)

const (
	signalRevert  = 2.0
	signalFix     = 1.5
	signalNeutral = 1.0

	// Positional fallback bounds when embedding history is too thin to
	// measure dissimilarity directly.
	fallbackFloor = 0.4
	fallbackSpan  = 0.2
)

// Detector scores consecutive cross-author transitions per file.
type Detector struct {
	cfg    config.DetectorConfig
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewDetector creates a detector with the given tuning parameters.
func NewDetector(cfg config.DetectorConfig, store Store) *Detector {
	return &Detector{
		cfg:    cfg,
		store:  store,
		logger: slog.Default().With("component", "replacement"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Recalculate rebuilds every replacement event for a repository from
// scratch: delete-then-rebuild, so parameter changes apply wholesale.
func (d *Detector) Recalculate(ctx context.Context, repoID string) (int, error) {
	if err := d.store.DeleteReplacementEvents(ctx, repoID); err != nil {
		return 0, err
	}

	changes, err := d.store.ListFileChanges(ctx, repoID)
	if err != nil {
		return 0, err
	}
	return d.detect(ctx, repoID, changes)
}

// Extend runs detection incrementally for just the named paths, upserting
// events rather than rebuilding the whole repository.
func (d *Detector) Extend(ctx context.Context, repoID string, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	changes, err := d.store.ListFileChangesForPaths(ctx, repoID, paths)
	if err != nil {
		return 0, err
	}
	return d.detect(ctx, repoID, changes)
}

func (d *Detector) detect(ctx context.Context, repoID string, changes []models.FileChange) (int, error) {
	byPath := make(map[string][]models.FileChange)
	for _, c := range changes {
		byPath[c.Path] = append(byPath[c.Path], c)
	}

	emitted := 0
	for path, fileChanges := range byPath {
		if len(fileChanges) < 2 {
			continue
		}
		sort.Slice(fileChanges, func(i, j int) bool {
			return fileChanges[i].Timestamp.Before(fileChanges[j].Timestamp)
		})

		for i := 1; i < len(fileChanges); i++ {
			event, ok := d.scorePair(ctx, repoID, path, fileChanges[i-1], fileChanges[i])
			if !ok {
				continue
			}
			if err := d.store.SaveReplacementEvent(ctx, event); err != nil {
				return emitted, err
			}
			emitted++
		}
	}

	d.logger.Info("replacement detection complete", "repo", repoID, "events", emitted)
	return emitted, nil
}

// scorePair applies the skip rules and scoring model to one consecutive
// (previous, current) transition. The boolean is false when any rule
// suppresses the event.
func (d *Detector) scorePair(ctx context.Context, repoID, path string, prev, curr models.FileChange) (*models.ReplacementEvent, bool) {
	// Self-modification is not replacement.
	if prev.AuthorEmail == curr.AuthorEmail {
		return nil, false
	}
	// Declared refactors are intentional, non-destructive change.
	if refactorPattern.MatchString(curr.Message) {
		return nil, false
	}

	daysBetween := curr.Timestamp.Sub(prev.Timestamp).Hours() / 24
	if daysBetween > d.cfg.MaxGapDays {
		// Too far apart: independent feature evolution.
		return nil, false
	}

	dissimilarity := d.semanticDissimilarity(ctx, repoID, path, curr)
	if dissimilarity < d.cfg.DissimilarityFloor {
		// Too similar: refactor in substance even if not in message.
		return nil, false
	}

	churn := curr.Additions + curr.Deletions
	churnFactor := math.Min(1, float64(churn)/float64(d.cfg.ChurnCap))
	signal := messageSignal(curr.Message)
	timeProximity := math.Exp(-daysBetween / d.cfg.ProximityScaleDays)

	weeksSince := d.now().Sub(curr.Timestamp).Hours() / (24 * 7)
	if weeksSince < 0 {
		weeksSince = 0
	}
	recencyDecay := math.Exp(-weeksSince * math.Ln2 / d.cfg.HalfLifeWeeks)

	score := dissimilarity * timeProximity * churnFactor * signal * recencyDecay

	return &models.ReplacementEvent{
		ID:                    uuid.NewString(),
		RepoID:                repoID,
		Path:                  path,
		OriginalCommit:        prev.CommitSHA,
		ReplacementCommit:     curr.CommitSHA,
		OriginalAuthor:        prev.AuthorEmail,
		ReplacementAuthor:     curr.AuthorEmail,
		SemanticDissimilarity: dissimilarity,
		TimeProximityDays:     daysBetween,
		ChurnMagnitude:        churn,
		MessageSignal:         signal,
		EventScore:            score,
		ReplacedAt:            curr.Timestamp,
		CreatedAt:             d.now(),
	}, true
}

// semanticDissimilarity is one minus the cosine similarity of the file's
// most recent two embeddings at the transition. With fewer than two
// embeddings on record it falls back to a deterministic positional
// estimate in [0.4, 0.6].
func (d *Detector) semanticDissimilarity(ctx context.Context, repoID, path string, curr models.FileChange) float64 {
	records, err := d.store.TwoLatestEmbeddings(ctx, repoID, path, curr.Timestamp)
	if err != nil || len(records) < 2 {
		return positionalFallback(path, curr.CommitSHA)
	}

	sim := embedding.CosineSimilarity(records[0].Vector, records[1].Vector)
	dissim := 1 - sim
	if dissim < 0 {
		dissim = 0
	}
	if dissim > 1 {
		dissim = 1
	}
	return dissim
}

// positionalFallback spreads estimates deterministically across [0.4, 0.6]
// so repeated runs agree without embedding history.
func positionalFallback(path, sha string) float64 {
	h := fnv.New32a()
	h.Write([]byte(path))
	h.Write([]byte(sha))
	frac := float64(h.Sum32()%1000) / 999.0
	return fallbackFloor + fallbackSpan*frac
}

// messageSignal weights the replacing commit's message: reverts signal the
// strongest displacement, fixes a moderate one.
func messageSignal(message string) float64 {
	switch {
	case revertPattern.MatchString(message):
		return signalRevert
	case fixPattern.MatchString(message):
		return signalFix
	default:
		return signalNeutral
	}
}
