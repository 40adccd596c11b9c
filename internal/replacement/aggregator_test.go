package replacement

import (
	"context"
	"testing"
	"time"

	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAggStore struct {
	events       []models.ReplacementEvent
	commitCounts map[string]int
	saved        []models.ContributorScore
}

func (f *fakeAggStore) ListReplacementEvents(_ context.Context, _ string, since time.Time) ([]models.ReplacementEvent, error) {
	var out []models.ReplacementEvent
	for _, e := range f.events {
		if since.IsZero() || !e.ReplacedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAggStore) CommitCountsByAuthor(_ context.Context, _ string) (map[string]int, error) {
	return f.commitCounts, nil
}

func (f *fakeAggStore) SaveContributorScores(_ context.Context, scores []models.ContributorScore) error {
	f.saved = scores
	return nil
}

func event(original string, score float64, replacedAt time.Time) models.ReplacementEvent {
	return models.ReplacementEvent{
		RepoID:            "repo-1",
		OriginalAuthor:    original,
		ReplacementAuthor: "other@example.com",
		EventScore:        score,
		ReplacedAt:        replacedAt,
	}
}

func TestScoresGroupByOriginalAuthor(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAggStore{
		events: []models.ReplacementEvent{
			event("alice@example.com", 0.4, now.AddDate(0, 0, -3)),
			event("alice@example.com", 0.2, now.AddDate(0, 0, -10)),
			event("bob@example.com", 0.1, now.AddDate(0, 0, -1)),
		},
		commitCounts: map[string]int{
			"alice@example.com": 50, // divisor 5
			"bob@example.com":   4,  // divisor clamps to 1
		},
	}

	a := NewAggregator(store)
	a.now = func() time.Time { return now }

	scores, err := a.Scores(context.Background(), "repo-1", 0)
	require.NoError(t, err)
	require.Len(t, scores, 2)

	byAuthor := make(map[string]models.ContributorScore)
	for _, s := range scores {
		byAuthor[s.AuthorEmail] = s
	}

	alice := byAuthor["alice@example.com"]
	assert.InDelta(t, 0.6, alice.RawScore, 1e-9)
	assert.InDelta(t, 0.12, alice.NormalizedScore, 1e-9)
	assert.Equal(t, 2, alice.EventCount)
	assert.Equal(t, 50, alice.TotalCommits)

	bob := byAuthor["bob@example.com"]
	assert.InDelta(t, 0.1, bob.RawScore, 1e-9)
	assert.InDelta(t, 0.1, bob.NormalizedScore, 1e-9)
}

func TestScoresWindowFiltersByReplacementDate(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAggStore{
		events: []models.ReplacementEvent{
			event("alice@example.com", 0.4, now.AddDate(0, 0, -3)),
			event("alice@example.com", 0.2, now.AddDate(0, 0, -40)),
		},
		commitCounts: map[string]int{"alice@example.com": 100},
	}

	a := NewAggregator(store)
	a.now = func() time.Time { return now }

	scores, err := a.Scores(context.Background(), "repo-1", 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, scores, 1)

	// Only the recent event counts, but normalization still uses the
	// lifetime commit count.
	assert.InDelta(t, 0.4, scores[0].RawScore, 1e-9)
	assert.InDelta(t, 0.04, scores[0].NormalizedScore, 1e-9)
	assert.Equal(t, 100, scores[0].TotalCommits)
}

func TestRefreshPersistsLifetimeScores(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAggStore{
		events:       []models.ReplacementEvent{event("alice@example.com", 0.5, now.AddDate(0, 0, -1))},
		commitCounts: map[string]int{"alice@example.com": 10},
	}

	a := NewAggregator(store)
	a.now = func() time.Time { return now }

	scores, err := a.Refresh(context.Background(), "repo-1")
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, scores, store.saved)
	assert.Equal(t, now, store.saved[0].LastCalculatedAt)
}
