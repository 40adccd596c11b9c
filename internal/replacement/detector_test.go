package replacement

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/codepulse/codepulse-go/internal/config"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	changes    []models.FileChange
	embeddings map[string][]models.EmbeddingRecord // path -> records
	events     []models.ReplacementEvent
	deleted    bool
}

func (f *fakeStore) ListFileChanges(_ context.Context, _ string) ([]models.FileChange, error) {
	return f.changes, nil
}

func (f *fakeStore) ListFileChangesForPaths(_ context.Context, _ string, paths []string) ([]models.FileChange, error) {
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	var out []models.FileChange
	for _, c := range f.changes {
		if want[c.Path] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) TwoLatestEmbeddings(_ context.Context, _, path string, atOrBefore time.Time) ([]models.EmbeddingRecord, error) {
	var eligible []models.EmbeddingRecord
	for _, rec := range f.embeddings[path] {
		if !rec.CommitTime.After(atOrBefore) {
			eligible = append(eligible, rec)
		}
	}
	if len(eligible) > 2 {
		eligible = eligible[len(eligible)-2:]
	}
	return eligible, nil
}

func (f *fakeStore) DeleteReplacementEvents(_ context.Context, _ string) error {
	f.deleted = true
	f.events = nil
	return nil
}

func (f *fakeStore) SaveReplacementEvent(_ context.Context, event *models.ReplacementEvent) error {
	f.events = append(f.events, *event)
	return nil
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fileChange(sha, author, message string, ts time.Time, additions, deletions int) models.FileChange {
	return models.FileChange{
		CommitSHA:   sha,
		RepoID:      "repo-1",
		Path:        "src/parser.py",
		Additions:   additions,
		Deletions:   deletions,
		AuthorEmail: author,
		Message:     message,
		Timestamp:   ts,
	}
}

// embeddingsWithCosine seeds two records whose vectors have the given
// cosine similarity, so dissimilarity is exactly 1-cos.
func embeddingsWithCosine(cos float64, t1, t2 time.Time) []models.EmbeddingRecord {
	return []models.EmbeddingRecord{
		{Path: "src/parser.py", CommitTime: t1, Vector: []float64{1, 0}},
		{Path: "src/parser.py", CommitTime: t2, Vector: []float64{cos, math.Sqrt(1 - cos*cos)}},
	}
}

func newDetector(store *fakeStore, now time.Time) *Detector {
	d := NewDetector(config.Default().Detector, store)
	d.now = func() time.Time { return now }
	return d
}

func TestDetectorEmitsFixReplacement(t *testing.T) {
	c1 := fileChange("c1", "x@example.com", "add parser", baseTime, 120, 0)
	c2 := fileChange("c2", "y@example.com", "fix crash", baseTime.AddDate(0, 0, 9), 40, 10)

	store := &fakeStore{
		changes:    []models.FileChange{c1, c2},
		embeddings: map[string][]models.EmbeddingRecord{"src/parser.py": embeddingsWithCosine(0.4, c1.Timestamp, c2.Timestamp)},
	}
	d := newDetector(store, c2.Timestamp)

	n, err := d.Recalculate(context.Background(), "repo-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	e := store.events[0]
	assert.True(t, store.deleted)
	assert.Equal(t, "c1", e.OriginalCommit)
	assert.Equal(t, "c2", e.ReplacementCommit)
	assert.Equal(t, "x@example.com", e.OriginalAuthor)
	assert.Equal(t, "y@example.com", e.ReplacementAuthor)
	assert.NotEqual(t, e.OriginalAuthor, e.ReplacementAuthor)
	assert.InDelta(t, 1.5, e.MessageSignal, 1e-9)
	assert.InDelta(t, 9.0, e.TimeProximityDays, 1e-9)
	assert.InDelta(t, 0.6, e.SemanticDissimilarity, 1e-9)
	assert.Equal(t, 50, e.ChurnMagnitude)

	// eventScore = dissim * exp(-9/7) * (50/200) * 1.5 * 1 (no decay at now).
	want := 0.6 * math.Exp(-9.0/7.0) * 0.25 * 1.5
	assert.InDelta(t, want, e.EventScore, 1e-9)
}

func TestDetectorSkipRules(t *testing.T) {
	tests := []struct {
		name string
		prev models.FileChange
		curr models.FileChange
		cos  float64
	}{
		{
			name: "same author",
			prev: fileChange("c1", "x@example.com", "add parser", baseTime, 100, 0),
			curr: fileChange("c2", "x@example.com", "fix crash", baseTime.AddDate(0, 0, 2), 50, 0),
			cos:  0.2,
		},
		{
			name: "refactor message",
			prev: fileChange("c1", "x@example.com", "add parser", baseTime, 100, 0),
			curr: fileChange("c2", "y@example.com", "refactor cleanup", baseTime.AddDate(0, 0, 9), 50, 0),
			cos:  0.2,
		},
		{
			name: "beyond gap ceiling",
			prev: fileChange("c1", "x@example.com", "add parser", baseTime, 100, 0),
			curr: fileChange("c2", "y@example.com", "fix crash", baseTime.AddDate(0, 0, 61), 50, 0),
			cos:  0.2,
		},
		{
			name: "below dissimilarity floor",
			prev: fileChange("c1", "x@example.com", "add parser", baseTime, 100, 0),
			curr: fileChange("c2", "y@example.com", "fix crash", baseTime.AddDate(0, 0, 9), 50, 0),
			cos:  0.9, // dissimilarity 0.1 < 0.3
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{
				changes: []models.FileChange{tt.prev, tt.curr},
				embeddings: map[string][]models.EmbeddingRecord{
					"src/parser.py": embeddingsWithCosine(tt.cos, tt.prev.Timestamp, tt.curr.Timestamp),
				},
			}
			d := newDetector(store, tt.curr.Timestamp)

			n, err := d.Recalculate(context.Background(), "repo-1")
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Empty(t, store.events)
		})
	}
}

func TestDetectorChurnCap(t *testing.T) {
	c1 := fileChange("c1", "x@example.com", "add parser", baseTime, 100, 0)
	c2 := fileChange("c2", "y@example.com", "rewrite everything", baseTime.AddDate(0, 0, 1), 900, 400)

	store := &fakeStore{
		changes:    []models.FileChange{c1, c2},
		embeddings: map[string][]models.EmbeddingRecord{"src/parser.py": embeddingsWithCosine(0.1, c1.Timestamp, c2.Timestamp)},
	}
	d := newDetector(store, c2.Timestamp)

	n, err := d.Recalculate(context.Background(), "repo-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Churn far above the cap contributes a factor of exactly 1.
	e := store.events[0]
	want := 0.9 * math.Exp(-1.0/7.0) * 1.0 * 1.0
	assert.InDelta(t, want, e.EventScore, 1e-9)
}

func TestDecayMonotonicity(t *testing.T) {
	c1 := fileChange("c1", "x@example.com", "add parser", baseTime, 100, 0)
	c2 := fileChange("c2", "y@example.com", "fix crash", baseTime.AddDate(0, 0, 9), 50, 0)
	embeds := embeddingsWithCosine(0.4, c1.Timestamp, c2.Timestamp)

	scoreAt := func(now time.Time) float64 {
		store := &fakeStore{
			changes:    []models.FileChange{c1, c2},
			embeddings: map[string][]models.EmbeddingRecord{"src/parser.py": embeds},
		}
		d := newDetector(store, now)
		n, err := d.Recalculate(context.Background(), "repo-1")
		require.NoError(t, err)
		require.Equal(t, 1, n)
		return store.events[0].EventScore
	}

	// Strictly decreasing in weeks-since-now for otherwise-fixed inputs.
	prev := scoreAt(c2.Timestamp)
	for weeks := 1; weeks <= 52; weeks *= 2 {
		curr := scoreAt(c2.Timestamp.AddDate(0, 0, 7*weeks))
		assert.Less(t, curr, prev, "score must decay after %d weeks", weeks)
		prev = curr
	}

	// Half-life: at 18 weeks the decayed score is half the fresh one.
	fresh := scoreAt(c2.Timestamp)
	halved := scoreAt(c2.Timestamp.AddDate(0, 0, 7*18))
	assert.InDelta(t, fresh/2, halved, fresh*1e-6)
}

func TestPositionalFallbackBounds(t *testing.T) {
	for _, sha := range []string{"a", "b", "c", "deadbeef", "0123456"} {
		v := positionalFallback("some/file.py", sha)
		assert.GreaterOrEqual(t, v, 0.4)
		assert.LessOrEqual(t, v, 0.6)
		// Deterministic across calls.
		assert.Equal(t, v, positionalFallback("some/file.py", sha))
	}
}

func TestMessageSignal(t *testing.T) {
	assert.Equal(t, 2.0, messageSignal("Revert \"add parser\""))
	assert.Equal(t, 2.0, messageSignal("rollback bad deploy"))
	assert.Equal(t, 1.5, messageSignal("fix crash on empty input"))
	assert.Equal(t, 1.5, messageSignal("hotfix for prod bug"))
	assert.Equal(t, 1.0, messageSignal("add streaming support"))
}

func TestExtendOnlyTouchesNamedPaths(t *testing.T) {
	other := fileChange("c3", "x@example.com", "add util", baseTime, 10, 0)
	other.Path = "src/util.py"
	c1 := fileChange("c1", "x@example.com", "add parser", baseTime, 100, 0)
	c2 := fileChange("c2", "y@example.com", "fix crash", baseTime.AddDate(0, 0, 9), 50, 0)

	store := &fakeStore{
		changes:    []models.FileChange{other, c1, c2},
		embeddings: map[string][]models.EmbeddingRecord{"src/parser.py": embeddingsWithCosine(0.4, c1.Timestamp, c2.Timestamp)},
	}
	d := newDetector(store, c2.Timestamp)

	n, err := d.Extend(context.Background(), "repo-1", []string{"src/parser.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, store.deleted)
}
