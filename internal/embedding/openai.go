package embedding

import (
	"context"
	"fmt"

	"github.com/codepulse/codepulse-go/internal/config"
	pkgerrors "github.com/codepulse/codepulse-go/internal/errors"
	"github.com/sashabaranov/go-openai"
)

type openaiGateway struct {
	client     *openai.Client
	model      string
	dimensions int
}

func newOpenAIGateway(cfg config.EmbeddingConfig) *openaiGateway {
	return &openaiGateway{
		client:     openai.NewClient(cfg.OpenAIKey),
		model:      cfg.OpenAIModel,
		dimensions: cfg.Dimensions,
	}
}

func (g *openaiGateway) Dimensions() int { return g.dimensions }

func (g *openaiGateway) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(g.model),
		Input:      []string{text},
		Dimensions: g.dimensions,
	})
	if err != nil {
		return nil, pkgerrors.Transient("openai embedding request failed", err)
	}
	if len(resp.Data) != 1 {
		return nil, pkgerrors.Transient(
			fmt.Sprintf("openai returned %d embeddings for 1 input", len(resp.Data)), nil)
	}

	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}
