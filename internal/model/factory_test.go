package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
	}{
		{"claude", "claude"},
		{"anthropic", "claude"},
		{"openai", "openai"},
		{"deepseek", "deepseek"},
		{"grok", "grok"},
		{"gemini", "gemini"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			client, err := NewClient(tt.provider, "some-model", "sk-test")
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, client.Name())
		})
	}
}

func TestNewClientRejections(t *testing.T) {
	_, err := NewClient("claude", "m", "")
	assert.ErrorIs(t, err, karakuriErrors.ErrConfig)

	_, err = NewClient("bard", "m", "sk-test")
	assert.ErrorIs(t, err, karakuriErrors.ErrConfig)
}
