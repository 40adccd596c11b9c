package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codepulse/codepulse-go/internal/config"
	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/codepulse/codepulse-go/internal/logging"
	"github.com/codepulse/codepulse-go/internal/models"
)

// Queue is the slice of storage the coordinator consumes.
type Queue interface {
	ClaimNext(ctx context.Context) (*models.QueueItem, error)
	MarkStatus(ctx context.Context, id string, status models.QueueStatus, attempts int, lastError string) error
}

// Handler dispatches one decoded event.
type Handler interface {
	HandlePush(ctx context.Context, ev PushEvent) error
	HandleReviewRequest(ctx context.Context, ev ReviewRequestEvent) error
}

// Coordinator drains the durable queue: claim, decode, dispatch. Claims
// are atomic at the storage layer, so several coordinators can share one
// queue without double-processing. Transient handler failures are retried
// with jittered exponential backoff up to the configured attempt budget;
// after that the item is marked failed with its last error retained.
type Coordinator struct {
	queue   Queue
	handler Handler
	cfg     config.PipelineConfig
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(queue Queue, handler Handler, cfg config.PipelineConfig) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Minute
	}
	return &Coordinator{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		logger:  logging.Component("coordinator"),
	}
}

// Run consumes the queue until the context is cancelled. An empty queue
// sleeps one poll interval before the next claim.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started",
		"poll_interval", c.cfg.PollInterval, "max_attempts", c.cfg.MaxAttempts)

	for {
		item, err := c.queue.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("queue claim failed", "error", err)
			item = nil
		}

		if item == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}
			continue
		}

		c.Process(ctx, item)
	}
}

// Process dispatches one claimed item and records its terminal status.
func (c *Coordinator) Process(ctx context.Context, item *models.QueueItem) {
	event, err := Decode(item)
	if err != nil {
		// Undecodable payloads can never succeed; fail without retrying.
		c.logger.Error("queue item rejected", "item", item.ID, "kind", item.Kind, "error", err)
		c.markFinal(ctx, item.ID, models.QueueStatusFailed, 1, err)
		return
	}

	attempts := 0
	err = retry.Do(
		func() error {
			attempts++
			return c.dispatch(ctx, event)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxAttempts)),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(c.cfg.BaseBackoff),
		retry.MaxDelay(c.cfg.MaxBackoff),
		retry.RetryIf(func(err error) bool {
			// Fatal and consistency failures do not improve with time.
			return !pkgerrors.IsFatal(err) && !pkgerrors.IsKind(err, pkgerrors.KindConsistency)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("queue item retry",
				"item", item.ID, "kind", item.Kind, "attempt", n+1,
				"max", c.cfg.MaxAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
	)

	if err != nil {
		c.logger.Error("queue item failed",
			"item", item.ID, "kind", item.Kind, "attempts", attempts, "error", err)
		c.markFinal(ctx, item.ID, models.QueueStatusFailed, attempts, err)
		return
	}

	c.logger.Info("queue item completed", "item", item.ID, "kind", item.Kind, "attempts", attempts)
	c.markFinal(ctx, item.ID, models.QueueStatusCompleted, attempts, nil)
}

func (c *Coordinator) dispatch(ctx context.Context, event Event) error {
	switch ev := event.(type) {
	case PushEvent:
		return c.handler.HandlePush(ctx, ev)
	case ReviewRequestEvent:
		return c.handler.HandleReviewRequest(ctx, ev)
	default:
		return pkgerrors.Consistency("unhandled event type %T", event)
	}
}

func (c *Coordinator) markFinal(ctx context.Context, id string, status models.QueueStatus, attempts int, cause error) {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	// Status bookkeeping must survive a cancelled run context.
	if err := c.queue.MarkStatus(context.WithoutCancel(ctx), id, status, attempts, lastError); err != nil {
		c.logger.Error("failed to record queue item status", "item", id, "status", status, "error", err)
	}
}
