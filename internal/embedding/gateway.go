// Package embedding is the gateway to the external embedding-vector
// provider, plus the vector math the analytic components share.
package embedding

import (
	"context"
	"fmt"

	"github.com/codepulse/codepulse-go/internal/config"
)

// Gateway turns a code fragment into a fixed-length numeric vector.
// Failures surface as retryable; callers skip the affected chunk.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// NewGateway builds the configured provider wrapped in the shared retry
// policy and rate limiter.
func NewGateway(ctx context.Context, cfg config.EmbeddingConfig) (Gateway, error) {
	var inner Gateway
	switch cfg.Provider {
	case "openai", "":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("embedding provider openai requires an API key")
		}
		inner = newOpenAIGateway(cfg)
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("embedding provider gemini requires an API key")
		}
		g, err := newGeminiGateway(ctx, cfg)
		if err != nil {
			return nil, err
		}
		inner = g
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	return newThrottledGateway(inner, cfg), nil
}
