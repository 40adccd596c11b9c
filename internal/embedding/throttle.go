package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codepulse/codepulse-go/internal/config"
	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"golang.org/x/time/rate"
)

// throttledGateway applies the uniform external-call policy: a token-bucket
// rate limit in front of jittered exponential-backoff retries. Every
// provider goes through the same policy.
type throttledGateway struct {
	inner       Gateway
	limiter     *rate.Limiter
	maxAttempts uint
	logger      *slog.Logger
}

func newThrottledGateway(inner Gateway, cfg config.EmbeddingConfig) *throttledGateway {
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 20
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 4
	}
	return &throttledGateway{
		inner:       inner,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		maxAttempts: uint(attempts),
		logger:      slog.Default().With("component", "embedding"),
	}
}

func (g *throttledGateway) Dimensions() int { return g.inner.Dimensions() }

func (g *throttledGateway) Embed(ctx context.Context, text string) ([]float64, error) {
	var vec []float64

	err := retry.Do(
		func() error {
			if err := g.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			v, err := g.inner.Embed(ctx, text)
			if err != nil {
				return err
			}
			vec = v
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(g.maxAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(30*time.Second),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("embedding request retry", "attempt", n+1, "max", g.maxAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, pkgerrors.Transient("embedding request exhausted retries", err)
	}
	return vec, nil
}
