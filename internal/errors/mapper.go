package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MapError classifies raw errors from providers and adapters by message content.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	// Propagate context cancellation as-is
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTimeout)
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "api key"), strings.Contains(errStr, "api_key"), strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "401"):
		return fmt.Errorf("credential rejected: %w", ErrConfig)

	// Missing binaries must match before the generic not-found arm.
	case strings.Contains(errStr, "executable file not found"), strings.Contains(errStr, "command not found"), strings.Contains(errStr, "not installed"):
		return fmt.Errorf("missing dependency: %w", ErrResourceMissing)

	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no such file"), strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("resource not found: %w", ErrNotFound)

	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "quota"), strings.Contains(errStr, "too many requests"), strings.Contains(errStr, "overloaded"):
		return fmt.Errorf("rate limited: %w", ErrProvider)

	case strings.Contains(errStr, "invalid json"), strings.Contains(errStr, "malformed json"), strings.Contains(errStr, "unexpected end of json"):
		return fmt.Errorf("invalid model output: %w", ErrParse)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("request timeout: %w", ErrTimeout)

	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"), strings.Contains(errStr, "unreachable"), strings.Contains(errStr, "dial tcp"):
		return fmt.Errorf("network error: %w", ErrProvider)

	default:
		return fmt.Errorf("internal error: %w", ErrInternal)
	}
}

// IsRetryable reports whether an error is worth retrying inside the step loop.
// Configuration and resource errors need the user, not another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInterrupted) {
		return false
	}
	if errors.Is(err, ErrConfig) || errors.Is(err, ErrResourceMissing) {
		return false
	}
	return errors.Is(err, ErrProvider) || errors.Is(err, ErrAdapter) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrTimeout)
}

// Category returns the taxonomy name for an error.
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrConfig):
		return "ErrConfig"
	case errors.Is(err, ErrProvider):
		return "ErrProvider"
	case errors.Is(err, ErrParse):
		return "ErrParse"
	case errors.Is(err, ErrValidation):
		return "ErrValidation"
	case errors.Is(err, ErrAdapter):
		return "ErrAdapter"
	case errors.Is(err, ErrResourceMissing):
		return "ErrResourceMissing"
	case errors.Is(err, ErrPlanning):
		return "ErrPlanning"
	case errors.Is(err, ErrNotReady):
		return "ErrNotReady"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrTimeout):
		return "ErrTimeout"
	case errors.Is(err, ErrInterrupted):
		return "ErrInterrupted"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error message under a specific category sentinel.
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, category)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// Config wraps a message as a configuration error
func Config(message string) error {
	return fmt.Errorf("%s: %w", message, ErrConfig)
}

// Provider wraps a message as a provider error
func Provider(message string) error {
	return fmt.Errorf("%s: %w", message, ErrProvider)
}

// Parse wraps a message as a parse error
func Parse(message string) error {
	return fmt.Errorf("%s: %w", message, ErrParse)
}

// Validation wraps a message as a validation error
func Validation(message string) error {
	return fmt.Errorf("%s: %w", message, ErrValidation)
}

// Adapter wraps a message as an adapter error
func Adapter(message string) error {
	return fmt.Errorf("%s: %w", message, ErrAdapter)
}

// ResourceMissing wraps a message as a resource-missing error
func ResourceMissing(message string) error {
	return fmt.Errorf("%s: %w", message, ErrResourceMissing)
}

// Planning wraps a message as a planning error
func Planning(message string) error {
	return fmt.Errorf("%s: %w", message, ErrPlanning)
}

// NotFound wraps a message as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// Internal wraps a message as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}
