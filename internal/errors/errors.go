package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrConfig - missing or malformed configuration (fatal at startup, non-retryable at runtime)
	ErrConfig = errors.New("configuration error")

	// ErrProvider - LLM provider unreachable or returned garbage (retry once via format repair, then propagate)
	ErrProvider = errors.New("provider error")

	// ErrParse - structured output could not be recovered by the tolerant extractor
	ErrParse = errors.New("parse error")

	// ErrValidation - plan or step malformed (retryable via reflection)
	ErrValidation = errors.New("validation error")

	// ErrAdapter - tool-reported failure (retryable up to the attempt limit)
	ErrAdapter = errors.New("adapter error")

	// ErrResourceMissing - missing system package or API key (surface immediately, requires user action)
	ErrResourceMissing = errors.New("resource missing")

	// ErrPlanning - planner exhausted its format-repair retry
	ErrPlanning = errors.New("planning failed")

	// ErrNotReady - component not finished loading (degrade, do not block)
	ErrNotReady = errors.New("not ready")

	// ErrNotFound - record or file not found
	ErrNotFound = errors.New("not found")

	// ErrTimeout - bounded wait expired
	ErrTimeout = errors.New("timeout")

	// ErrInterrupted - task stopped cooperatively via the stop flag
	ErrInterrupted = errors.New("interrupted")

	// ErrInternal - anything that escaped classification
	ErrInternal = errors.New("internal error")
)
