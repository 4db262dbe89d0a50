package gemini

import (
	"context"
	"fmt"

	"github.com/harunnryd/karakuri/internal/model/contract"

	"google.golang.org/genai"
)

const defaultEmbeddingModel = "text-embedding-004"

type Provider struct {
	client *genai.Client
	model  string
}

func New(apiKey, model string) (*Provider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) Chat(ctx context.Context, messages []contract.Message, opts contract.ChatOptions) (string, error) {
	var contents []*genai.Content
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == contract.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  string(role),
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{}
	if opts.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: opts.System}}}
	}
	if opts.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(opts.Temperature)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return resp.Text(), nil
}

// Embed encodes text with the gemini embedding model.
func (p *Provider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if model == "" {
		model = defaultEmbeddingModel
	}

	resp, err := p.client.Models.EmbedContent(ctx, model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}}, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("gemini returned no embedding data")
	}
	return resp.Embeddings[0].Values, nil
}
