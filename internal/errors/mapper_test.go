package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		sentinel error
	}{
		{"nil passes through", nil, nil},
		{"missing api key", errors.New("anthropic: invalid api_key provided"), ErrConfig},
		{"unauthorized", errors.New("401 unauthorized"), ErrConfig},
		{"missing binary", errors.New(`exec: "pactl": executable file not found in $PATH`), ErrResourceMissing},
		{"rate limited", errors.New("429 too many requests"), ErrProvider},
		{"bad json", errors.New("invalid JSON payload"), ErrParse},
		{"timeout", errors.New("i/o timeout waiting for response"), ErrTimeout},
		{"network", errors.New("dial tcp 10.0.0.1:443: connection refused"), ErrProvider},
		{"missing file", errors.New("open /tmp/x: no such file or directory"), ErrNotFound},
		{"unclassified", errors.New("something odd"), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.input)
			if tt.sentinel == nil {
				assert.NoError(t, mapped)
				return
			}
			assert.ErrorIs(t, mapped, tt.sentinel)
		})
	}
}

func TestMapErrorContext(t *testing.T) {
	assert.ErrorIs(t, MapError(context.Canceled), context.Canceled)
	assert.ErrorIs(t, MapError(context.DeadlineExceeded), ErrTimeout)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Provider("model unreachable")))
	assert.True(t, IsRetryable(Adapter("click target missing")))
	assert.True(t, IsRetryable(Validation("step missing params")))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(Config("api key unset")))
	assert.False(t, IsRetryable(ResourceMissing("tesseract not installed")))
	assert.False(t, IsRetryable(fmt.Errorf("stopped: %w", ErrInterrupted)))
	assert.False(t, IsRetryable(context.Canceled))
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "ErrPlanning", Category(Planning("both attempts malformed")))
	assert.Equal(t, "ErrConfig", Category(Wrap(Config("no provider"), "startup")))
	assert.Equal(t, "Unknown", Category(errors.New("bare")))
	assert.Equal(t, "", Category(nil))
}
