package cognitive

import (
	"encoding/json"
	"log/slog"
	"strings"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/task"
)

// Tolerant JSON extraction. Model output arrives wrapped in markdown
// fences, prefixed by prose, with unescaped newlines inside strings, or
// truncated mid-array. The extractor is deterministic and side-effect-free;
// it logs diagnostics but never mutates shared state.

type stepsPayload struct {
	Steps   []*task.Step `json:"steps"`
	NewPlan []*task.Step `json:"new_plan"`
	Plan    []*task.Step `json:"plan"`
}

// ExtractSteps recovers a step list from raw model output, accepting both
// the bare-array and the wrapped-object shapes.
func ExtractSteps(raw string) ([]*task.Step, error) {
	normalized := stripFences(raw)

	candidates := []string{}
	if arr := extractBalanced(normalized, '[', ']'); arr != "" {
		candidates = append(candidates, arr)
	}
	if obj := extractBalanced(normalized, '{', '}'); obj != "" {
		candidates = append(candidates, obj)
	}
	// The whole normalized text goes last: repairs may still save a
	// truncated array no balanced scan could slice out.
	candidates = append(candidates, normalized)

	for _, candidate := range candidates {
		for _, attempt := range repairLadder(candidate) {
			if steps, ok := decodeSteps(attempt); ok {
				return steps, nil
			}
		}
	}

	slog.Debug("Step extraction failed", "length", len(raw))
	return nil, karakuriErrors.Parse("no step list recoverable from model output")
}

// ExtractObject recovers a single JSON object (the reflector shape).
func ExtractObject(raw string) (map[string]any, error) {
	normalized := stripFences(raw)

	candidate := extractBalanced(normalized, '{', '}')
	if candidate == "" {
		candidate = normalized
	}

	for _, attempt := range repairLadder(candidate) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(attempt), &obj); err == nil {
			return obj, nil
		}
	}

	return nil, karakuriErrors.Parse("no object recoverable from model output")
}

func decodeSteps(candidate string) ([]*task.Step, bool) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return nil, false
	}

	if strings.HasPrefix(trimmed, "[") {
		var steps []*task.Step
		if err := json.Unmarshal([]byte(trimmed), &steps); err == nil {
			return steps, true
		}
		return nil, false
	}

	var payload stepsPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, false
	}
	for _, steps := range [][]*task.Step{payload.Steps, payload.NewPlan, payload.Plan} {
		if steps != nil {
			return steps, true
		}
	}
	return nil, false
}

// repairLadder yields the candidate followed by progressively more
// aggressive repairs, cheapest first.
func repairLadder(candidate string) []string {
	out := []string{candidate}

	escaped := escapeBareNewlines(candidate)
	if escaped != candidate {
		out = append(out, escaped)
	}

	closed := closeUnterminatedScript(escaped)
	if closed != escaped {
		out = append(out, closed)
	}

	truncated := truncateAndClose(closed)
	if truncated != closed {
		out = append(out, truncated)
	}

	return out
}

// stripFences removes enclosing triple-backtick fences and any prose
// around them.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)

	if start := strings.Index(s, "```"); start >= 0 {
		inner := s[start+3:]
		// Drop an optional language tag on the fence line.
		if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
			firstLine := strings.TrimSpace(inner[:nl])
			if firstLine == "json" || firstLine == "JSON" || firstLine == "" {
				inner = inner[nl+1:]
			}
		} else {
			inner = strings.TrimPrefix(inner, "json")
		}
		if end := strings.Index(inner, "```"); end >= 0 {
			inner = inner[:end]
		}
		return strings.TrimSpace(inner)
	}

	return s
}

// extractBalanced locates the first balanced open..close slice using a
// character scan that tracks string context and escapes, so brackets
// inside string literals never misalign the nesting.
func extractBalanced(input string, open, close byte) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return strings.TrimSpace(input[start : i+1])
			}
		}
	}
	return ""
}

// escapeBareNewlines rewrites literal newlines (and tabs/returns) that
// appear inside string context into their escaped forms.
func escapeBareNewlines(input string) string {
	var b strings.Builder
	b.Grow(len(input))

	inString := false
	escaped := false
	for i := 0; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				b.WriteByte(ch)
				continue
			}
			switch ch {
			case '\\':
				escaped = true
				b.WriteByte(ch)
			case '"':
				inString = false
				b.WriteByte(ch)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(ch)
			}
			continue
		}

		if ch == '"' {
			inString = true
		}
		b.WriteByte(ch)
	}

	return b.String()
}

// closeUnterminatedScript handles the common failure where a long
// "script" value loses its closing quote: the scan ends still inside a
// string, and we insert a quote before the nearest structurally valid
// close point.
func closeUnterminatedScript(input string) string {
	if !scanEndsInString(input) {
		return input
	}

	// Walk backwards over the trailing run of structural closers and
	// whitespace; the missing quote belongs just before it.
	i := len(input) - 1
	for i >= 0 {
		switch input[i] {
		case '}', ']', ',', ' ', '\t', '\r', '\n':
			i--
			continue
		}
		break
	}
	return input[:i+1] + `"` + input[i+1:]
}

func scanEndsInString(input string) bool {
	inString := false
	escaped := false
	for i := 0; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
		}
	}
	return inString
}

// truncateAndClose is the last resort for truncated output: cut at the
// last complete element boundary and append the closers the nesting still
// owes.
func truncateAndClose(input string) string {
	cut := strings.LastIndexAny(input, "]}")
	if cut < 0 {
		return input
	}
	candidate := input[:cut+1]

	depth := 0
	inString := false
	escaped := false
	var stack []byte
	for i := 0; i < len(candidate); i++ {
		ch := candidate[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[':
			stack = append(stack, ']')
			depth++
		case '{':
			stack = append(stack, '}')
			depth++
		case ']', '}':
			if depth > 0 {
				depth--
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(candidate)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
