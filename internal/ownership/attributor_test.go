package ownership

import (
	"context"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/codepulse/codepulse-go/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	deltas     map[string]float64 // path|author -> total
	shares     map[string][]models.OwnershipShare
	embeddings []models.EmbeddingRecord
}

func newMemStore() *memStore {
	return &memStore{
		deltas: make(map[string]float64),
		shares: make(map[string][]models.OwnershipShare),
	}
}

func (m *memStore) AddOwnershipDelta(_ context.Context, _, path, author string, delta float64) error {
	m.deltas[path+"|"+author] += delta
	return nil
}

func (m *memStore) ListOwnershipDeltas(_ context.Context, repoID string) ([]models.OwnershipDelta, error) {
	var out []models.OwnershipDelta
	for key, total := range m.deltas {
		path, author, _ := strings.Cut(key, "|")
		out = append(out, models.OwnershipDelta{RepoID: repoID, Path: path, AuthorEmail: author, TotalDelta: total})
	}
	return out, nil
}

func (m *memStore) ReplaceOwnershipShares(_ context.Context, _, path string, shares []models.OwnershipShare) error {
	m.shares[path] = shares
	return nil
}

func (m *memStore) SaveEmbedding(_ context.Context, rec *models.EmbeddingRecord) error {
	m.embeddings = append(m.embeddings, *rec)
	return nil
}

func (m *memStore) LatestEmbeddingBefore(_ context.Context, _, path string, before time.Time) (*models.EmbeddingRecord, error) {
	var latest *models.EmbeddingRecord
	for i := range m.embeddings {
		rec := m.embeddings[i]
		if rec.Path != path || !rec.CommitTime.Before(before) {
			continue
		}
		if latest == nil || rec.CommitTime.After(latest.CommitTime) {
			latest = &m.embeddings[i]
		}
	}
	return latest, nil
}

type stubParser struct {
	functions []parser.Function
}

func (s *stubParser) Parse(context.Context, string, string) (*parser.Result, error) {
	return &parser.Result{Functions: s.functions}, nil
}

type stubGateway struct {
	vectors map[string][]float64
	fail    map[string]bool
}

func (s *stubGateway) Dimensions() int { return 3 }

func (s *stubGateway) Embed(_ context.Context, text string) ([]float64, error) {
	if s.fail[text] {
		return nil, pkgerrors.Transient("embedding unavailable", nil)
	}
	return s.vectors[text], nil
}

func change(path, author string, ts time.Time) models.FileChange {
	return models.FileChange{
		CommitSHA:   "sha-" + author + ts.Format("02"),
		RepoID:      "repo-1",
		Path:        path,
		AuthorEmail: author,
		Timestamp:   ts,
	}
}

func TestSharesSumToOne(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{vectors: map[string][]float64{
		"v1": {1, 0, 0},
		"v2": {0, 1, 0},
		"v3": {0, 0, 1},
	}}
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	a := NewAttributor(store, gw, &stubParser{functions: []parser.Function{{Name: "f", Body: "v1"}}})
	require.NoError(t, a.ProcessChange(ctx, change("f.py", "alice@example.com", base), "", "python"))

	a = NewAttributor(store, gw, &stubParser{functions: []parser.Function{{Name: "f", Body: "v2"}}})
	require.NoError(t, a.ProcessChange(ctx, change("f.py", "bob@example.com", base.AddDate(0, 0, 1)), "", "python"))

	a = NewAttributor(store, gw, &stubParser{functions: []parser.Function{{Name: "f", Body: "v3"}}})
	require.NoError(t, a.ProcessChange(ctx, change("f.py", "alice@example.com", base.AddDate(0, 0, 2)), "", "python"))

	files, err := a.Normalize(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, 1, files)

	shares := store.shares["f.py"]
	require.Len(t, shares, 2)

	var sum float64
	for _, s := range shares {
		assert.Greater(t, s.Score, 0.0)
		sum += s.Score
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestFirstSightingProducesNoDelta(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{vectors: map[string][]float64{"v1": {1, 0, 0}}}
	a := NewAttributor(store, gw, &stubParser{functions: []parser.Function{{Name: "f", Body: "v1"}}})

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, a.ProcessChange(context.Background(), change("new.py", "alice@example.com", base), "", "python"))

	assert.Empty(t, store.deltas)
	assert.Len(t, store.embeddings, 1)

	// No delta history means no shares.
	files, err := a.Normalize(context.Background(), "repo-1")
	require.NoError(t, err)
	assert.Equal(t, 0, files)
	assert.Empty(t, store.shares)
}

func TestEmbeddingFailureExcludesOnlyThatChunk(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{
		vectors: map[string][]float64{"good": {0, 1, 0}, "seed": {1, 0, 0}},
		fail:    map[string]bool{"bad": true},
	}
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := NewAttributor(store, gw, &stubParser{functions: []parser.Function{{Name: "s", Body: "seed"}}})
	require.NoError(t, seed.ProcessChange(ctx, change("f.py", "alice@example.com", base), "", "python"))

	a := NewAttributor(store, gw, &stubParser{functions: []parser.Function{
		{Name: "broken", Body: "bad"},
		{Name: "fine", Body: "good"},
	}})
	require.NoError(t, a.ProcessChange(ctx, change("f.py", "bob@example.com", base.AddDate(0, 0, 1)), "", "python"))

	// The failed chunk contributed nothing; the good chunk's delta landed.
	assert.InDelta(t, 1.4142135, store.deltas["f.py|bob@example.com"], 1e-6)
	assert.Len(t, store.embeddings, 2)
}
