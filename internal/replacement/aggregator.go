package replacement

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/codepulse/codepulse-go/internal/models"
)

// AggregatorStore is the persistence slice the aggregator needs.
type AggregatorStore interface {
	ListReplacementEvents(ctx context.Context, repoID string, since time.Time) ([]models.ReplacementEvent, error)
	CommitCountsByAuthor(ctx context.Context, repoID string) (map[string]int, error)
	SaveContributorScores(ctx context.Context, scores []models.ContributorScore) error
}

// Aggregator rolls replacement events into per-contributor instability
// scores. Events are grouped by the original author: the score measures
// instability experienced by a contributor's code, not caused by them.
type Aggregator struct {
	store  AggregatorStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(store AggregatorStore) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: slog.Default().With("component", "scores"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Scores computes windowed contributor scores. window <= 0 means lifetime.
// The window filters events by the replacement commit's date, but
// normalization always uses lifetime commit counts so scores stay
// comparable across windows.
func (a *Aggregator) Scores(ctx context.Context, repoID string, window time.Duration) ([]models.ContributorScore, error) {
	since := time.Time{}
	if window > 0 {
		since = a.now().Add(-window)
	}

	events, err := a.store.ListReplacementEvents(ctx, repoID, since)
	if err != nil {
		return nil, err
	}
	commitCounts, err := a.store.CommitCountsByAuthor(ctx, repoID)
	if err != nil {
		return nil, err
	}

	type agg struct {
		raw   float64
		count int
	}
	byAuthor := make(map[string]*agg)
	for _, e := range events {
		entry := byAuthor[e.OriginalAuthor]
		if entry == nil {
			entry = &agg{}
			byAuthor[e.OriginalAuthor] = entry
		}
		entry.raw += e.EventScore
		entry.count++
	}

	calculatedAt := a.now()
	scores := make([]models.ContributorScore, 0, len(byAuthor))
	for author, entry := range byAuthor {
		totalCommits := commitCounts[author]
		divisor := math.Max(1, float64(totalCommits)/10)
		scores = append(scores, models.ContributorScore{
			RepoID:           repoID,
			AuthorEmail:      author,
			RawScore:         entry.raw,
			NormalizedScore:  entry.raw / divisor,
			TotalCommits:     totalCommits,
			EventCount:       entry.count,
			LastCalculatedAt: calculatedAt,
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		return scores[i].NormalizedScore > scores[j].NormalizedScore
	})
	return scores, nil
}

// Refresh recomputes and persists lifetime scores for a repository.
func (a *Aggregator) Refresh(ctx context.Context, repoID string) ([]models.ContributorScore, error) {
	scores, err := a.Scores(ctx, repoID, 0)
	if err != nil {
		return nil, err
	}
	if err := a.store.SaveContributorScores(ctx, scores); err != nil {
		return nil, err
	}
	a.logger.Info("contributor scores refreshed", "repo", repoID, "contributors", len(scores))
	return scores, nil
}
