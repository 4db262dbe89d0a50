package task

import (
	"fmt"
	"regexp"
	"strings"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
)

// Placeholder tokens the planner and reflector are forbidden to emit. A
// step carrying one cannot be executed literally; the model must extract
// real values or declare the step non-retryable.
var placeholderPattern = regexp.MustCompile(`\[[A-Z_]+\]|\[\.\.\.\]|TODO|FIXME|extract_from_context_or_ask_user`)

// HasPlaceholder reports whether a string contains a placeholder token.
func HasPlaceholder(value string) bool {
	return placeholderPattern.MatchString(value)
}

// FindPlaceholder walks every string value in params (including nested
// lists and maps) and returns the first offending value, or "".
func FindPlaceholder(params map[string]any) string {
	for _, v := range params {
		if found := findPlaceholderValue(v); found != "" {
			return found
		}
	}
	return ""
}

func findPlaceholderValue(v any) string {
	switch val := v.(type) {
	case string:
		if HasPlaceholder(val) {
			return val
		}
	case []any:
		for _, item := range val {
			if found := findPlaceholderValue(item); found != "" {
				return found
			}
		}
	case map[string]any:
		return FindPlaceholder(val)
	}
	return ""
}

// ValidateStep checks the structural invariants of one step: non-empty
// type and action, params always a map, type resolvable to the registered
// set, no placeholder tokens. The step is normalized in place (alias
// resolution, nil params replaced).
func ValidateStep(s *Step) error {
	if s == nil {
		return karakuriErrors.Validation("step is nil")
	}
	if strings.TrimSpace(s.Action) == "" {
		return karakuriErrors.Validation("step action is empty")
	}
	if strings.TrimSpace(s.Type) == "" {
		return karakuriErrors.Validation("step type is empty")
	}

	canonical, ok := NormalizeType(s.Type, s.Action)
	if !ok {
		return karakuriErrors.Validation(fmt.Sprintf("unknown step type: %s", s.Type))
	}
	s.Type = canonical

	if s.Params == nil {
		s.Params = map[string]any{}
	}
	if found := FindPlaceholder(s.Params); found != "" {
		return karakuriErrors.Validation(fmt.Sprintf("placeholder token in params: %s", found))
	}
	if HasPlaceholder(s.Action) {
		return karakuriErrors.Validation(fmt.Sprintf("placeholder token in action: %s", s.Action))
	}

	return nil
}

// ValidatePlan validates every step of a plan.
func ValidatePlan(p Plan) error {
	for i, s := range p {
		if err := ValidateStep(s); err != nil {
			return karakuriErrors.Wrap(err, fmt.Sprintf("step %d", i))
		}
	}
	return nil
}
