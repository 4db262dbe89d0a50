package anthropic

import (
	"context"
	"fmt"

	"github.com/harunnryd/karakuri/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 4096

type Provider struct {
	client anthropic.Client
	model  string
}

func New(apiKey, model string) *Provider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: client, model: model}
}

func (p *Provider) Name() string {
	return "claude"
}

func (p *Provider) Chat(ctx context.Context, messages []contract.Message, opts contract.ChatOptions) (string, error) {
	var params []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case contract.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  params,
	}
	if opts.System != "" {
		req.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}
	if opts.Temperature > 0 {
		req.Temperature = anthropic.Float(float64(opts.Temperature))
	}

	// The Anthropic API has no JSON response mode; the tolerant extractor
	// downstream handles prose-wrapped output.
	msg, err := p.client.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var out string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += b.Text
		}
	}
	return out, nil
}
