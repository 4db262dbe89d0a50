package model

import (
	"context"

	"github.com/harunnryd/karakuri/internal/model/contract"
)

// Client is the uniform chat interface every vendor implementation
// satisfies. The planner and reflector only ever see this.
type Client interface {
	Chat(ctx context.Context, messages []contract.Message, opts contract.ChatOptions) (string, error)
	Name() string
}

// Encoder turns text into an embedding vector. The embedding provider
// wraps one of these behind its readiness gate.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}
