package reviewcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGetRoundTrip(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	defer cache.Close()

	requests := []models.ReviewRequest{
		{RepoID: "acme/widget", Number: 7, State: "open", Files: []string{"src/a.py"}},
		{RepoID: "acme/widget", Number: 9, State: "open", Files: []string{"src/b.py", "src/c.py"}},
	}
	syncedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, cache.Put("acme/widget", requests, syncedAt))

	got, err := cache.Get("acme/widget")
	require.NoError(t, err)
	assert.Equal(t, requests, got)

	last, err := cache.LastSync("acme/widget")
	require.NoError(t, err)
	assert.True(t, last.Equal(syncedAt))
}

func TestCacheMissReturnsNil(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	defer cache.Close()

	got, err := cache.Get("acme/unknown")
	require.NoError(t, err)
	assert.Nil(t, got)

	last, err := cache.LastSync("acme/unknown")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestCachePutReplacesSnapshot(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	defer cache.Close()

	first := []models.ReviewRequest{{RepoID: "acme/widget", Number: 7, State: "open"}}
	require.NoError(t, cache.Put("acme/widget", first, time.Now()))

	second := []models.ReviewRequest{{RepoID: "acme/widget", Number: 8, State: "open"}}
	require.NoError(t, cache.Put("acme/widget", second, time.Now()))

	got, err := cache.Get("acme/widget")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 8, got[0].Number)
}
