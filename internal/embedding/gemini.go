package embedding

import (
	"context"
	"fmt"

	"github.com/codepulse/codepulse-go/internal/config"
	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"google.golang.org/genai"
)

type geminiGateway struct {
	client     *genai.Client
	model      string
	dimensions int
}

func newGeminiGateway(ctx context.Context, cfg config.EmbeddingConfig) (*geminiGateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiGateway{
		client:     client,
		model:      cfg.GeminiModel,
		dimensions: cfg.Dimensions,
	}, nil
}

func (g *geminiGateway) Dimensions() int { return g.dimensions }

func (g *geminiGateway) Embed(ctx context.Context, text string) ([]float64, error) {
	dims := int32(g.dimensions)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, pkgerrors.Transient("gemini embedding request failed", err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, pkgerrors.Transient(
			fmt.Sprintf("gemini returned %d embeddings for 1 input", len(resp.Embeddings)), nil)
	}

	values := resp.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	return vec, nil
}
