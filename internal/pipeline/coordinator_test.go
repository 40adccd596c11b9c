package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codepulse/codepulse-go/internal/config"
	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu       sync.Mutex
	statuses map[string]models.QueueStatus
	attempts map[string]int
	lastErrs map[string]string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		statuses: make(map[string]models.QueueStatus),
		attempts: make(map[string]int),
		lastErrs: make(map[string]string),
	}
}

func (q *fakeQueue) ClaimNext(ctx context.Context) (*models.QueueItem, error) {
	return nil, nil
}

func (q *fakeQueue) MarkStatus(ctx context.Context, id string, status models.QueueStatus, attempts int, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses[id] = status
	q.attempts[id] = attempts
	q.lastErrs[id] = lastError
	return nil
}

type fakeHandler struct {
	pushErrs []error // consumed one per call; nil past the end
	pushes   int
	reviews  int
}

func (h *fakeHandler) HandlePush(ctx context.Context, ev PushEvent) error {
	h.pushes++
	if h.pushes <= len(h.pushErrs) {
		return h.pushErrs[h.pushes-1]
	}
	return nil
}

func (h *fakeHandler) HandleReviewRequest(ctx context.Context, ev ReviewRequestEvent) error {
	h.reviews++
	return nil
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  3,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	}
}

func pushItem(id string) *models.QueueItem {
	return &models.QueueItem{
		ID:      id,
		RepoID:  "acme/widget",
		Kind:    KindPush,
		Payload: []byte(`{"branch":"main","head_sha":"abc"}`),
		Status:  models.QueueStatusProcessing,
	}
}

func TestProcessMarksCompleted(t *testing.T) {
	queue := newFakeQueue()
	handler := &fakeHandler{}
	c := NewCoordinator(queue, handler, testPipelineConfig())

	c.Process(context.Background(), pushItem("q-1"))

	assert.Equal(t, models.QueueStatusCompleted, queue.statuses["q-1"])
	assert.Equal(t, 1, queue.attempts["q-1"])
	assert.Equal(t, 1, handler.pushes)
}

func TestProcessRetriesTransientThenSucceeds(t *testing.T) {
	queue := newFakeQueue()
	handler := &fakeHandler{pushErrs: []error{
		pkgerrors.Transient("parser unavailable", nil),
	}}
	c := NewCoordinator(queue, handler, testPipelineConfig())

	c.Process(context.Background(), pushItem("q-1"))

	assert.Equal(t, models.QueueStatusCompleted, queue.statuses["q-1"])
	assert.Equal(t, 2, queue.attempts["q-1"])
	assert.Equal(t, 2, handler.pushes)
}

func TestProcessExhaustsRetriesAndFails(t *testing.T) {
	queue := newFakeQueue()
	handler := &fakeHandler{pushErrs: []error{
		pkgerrors.Transient("down", nil),
		pkgerrors.Transient("down", nil),
		pkgerrors.Transient("still down", nil),
	}}
	c := NewCoordinator(queue, handler, testPipelineConfig())

	c.Process(context.Background(), pushItem("q-1"))

	assert.Equal(t, models.QueueStatusFailed, queue.statuses["q-1"])
	assert.Equal(t, 3, queue.attempts["q-1"])
	assert.Contains(t, queue.lastErrs["q-1"], "still down")
}

func TestProcessDoesNotRetryFatal(t *testing.T) {
	queue := newFakeQueue()
	handler := &fakeHandler{pushErrs: []error{
		pkgerrors.Fatal("repository clone corrupted", nil),
	}}
	c := NewCoordinator(queue, handler, testPipelineConfig())

	c.Process(context.Background(), pushItem("q-1"))

	assert.Equal(t, models.QueueStatusFailed, queue.statuses["q-1"])
	assert.Equal(t, 1, handler.pushes)
}

func TestProcessFailsUndecodableItemWithoutDispatch(t *testing.T) {
	queue := newFakeQueue()
	handler := &fakeHandler{}
	c := NewCoordinator(queue, handler, testPipelineConfig())

	c.Process(context.Background(), &models.QueueItem{
		ID: "q-bad", RepoID: "acme/widget", Kind: "deploy", Payload: []byte(`{}`),
	})

	assert.Equal(t, models.QueueStatusFailed, queue.statuses["q-bad"])
	assert.Zero(t, handler.pushes)
	assert.Zero(t, handler.reviews)
}

func TestRunStopsOnCancel(t *testing.T) {
	queue := newFakeQueue()
	c := NewCoordinator(queue, &fakeHandler{}, testPipelineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop after cancel")
	}
}
