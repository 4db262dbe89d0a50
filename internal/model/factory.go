package model

import (
	"fmt"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	anthropicProvider "github.com/harunnryd/karakuri/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/karakuri/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/karakuri/internal/model/providers/openai"
)

// Base URLs for the OpenAI-wire variants.
const (
	DeepseekBaseURL = "https://api.deepseek.com/v1"
	GrokBaseURL     = "https://api.x.ai/v1"
)

// NewClient builds the chat client for a configured provider. The
// orchestrator calls this after every config reload so a provider switch
// between two tasks takes effect on the second one.
func NewClient(provider, model, apiKey string) (Client, error) {
	if apiKey == "" {
		return nil, karakuriErrors.Config(fmt.Sprintf("no api key configured for provider %q", provider))
	}

	switch provider {
	case "claude", "anthropic":
		return anthropicProvider.New(apiKey, model), nil
	case "openai":
		return openaiProvider.New("openai", apiKey, "", model), nil
	case "deepseek":
		return openaiProvider.New("deepseek", apiKey, DeepseekBaseURL, model), nil
	case "grok":
		return openaiProvider.New("grok", apiKey, GrokBaseURL, model), nil
	case "gemini":
		return geminiProvider.New(apiKey, model)
	default:
		return nil, karakuriErrors.Config(fmt.Sprintf("unknown provider %q", provider))
	}
}
