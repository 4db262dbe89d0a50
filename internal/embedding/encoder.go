package embedding

import (
	"context"

	"github.com/harunnryd/karakuri/internal/model"
	geminiProvider "github.com/harunnryd/karakuri/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/karakuri/internal/model/providers/openai"
)

const (
	openAIEmbeddingModel = "text-embedding-3-small"
	geminiEmbeddingModel = "text-embedding-004"
)

type openAIEncoder struct {
	provider *openaiProvider.Provider
}

func (e *openAIEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	return e.provider.Embed(ctx, openAIEmbeddingModel, text)
}

type geminiEncoder struct {
	provider *geminiProvider.Provider
}

func (e *geminiEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	return e.provider.Embed(ctx, geminiEmbeddingModel, text)
}

// NewEncoder picks an embedding backend for the configured provider.
// Providers without an embedding endpoint (claude, deepseek, grok) fall
// back to the OpenAI encoder when an OpenAI key is available; otherwise
// the returned encoder is nil and vector features degrade.
func NewEncoder(provider, apiKey, openAIKey string) model.Encoder {
	switch provider {
	case "openai":
		return &openAIEncoder{provider: openaiProvider.New("openai", apiKey, "", "")}
	case "gemini":
		g, err := geminiProvider.New(apiKey, "")
		if err != nil {
			return nil
		}
		return &geminiEncoder{provider: g}
	default:
		if openAIKey == "" {
			return nil
		}
		return &openAIEncoder{provider: openaiProvider.New("openai", openAIKey, "", "")}
	}
}
