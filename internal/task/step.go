package task

import "time"

// Step is one unit of work dispatched to exactly one tool adapter.
type Step struct {
	Type        string         `json:"type"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
	Description string         `json:"description,omitempty"`
}

// Clone returns a deep-enough copy: params map is copied one level so a
// reflector rewrite never mutates the plan it came from.
func (s *Step) Clone() *Step {
	params := make(map[string]any, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}
	return &Step{
		Type:        s.Type,
		Action:      s.Action,
		Params:      params,
		Description: s.Description,
	}
}

// Param returns a string parameter, "" when absent or not a string.
func (s *Step) Param(key string) string {
	if s.Params == nil {
		return ""
	}
	if v, ok := s.Params[key].(string); ok {
		return v
	}
	return ""
}

// Plan is an ordered sequence of steps satisfying one instruction. An empty
// plan is legal and means "nothing to do".
type Plan []*Step

// CompactStep is a Step reduced to what is safe to persist in vector
// memory: no params, so the stored JSON is always well-formed and bounded.
type CompactStep struct {
	Type        string `json:"type"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// Compact reduces a plan for persistence.
func (p Plan) Compact() []CompactStep {
	out := make([]CompactStep, 0, len(p))
	for _, s := range p {
		out = append(out, CompactStep{Type: s.Type, Action: s.Action, Description: s.Description})
	}
	return out
}

// StepResult is what an adapter returns. Adapter failures never cross the
// executor boundary as Go errors; they arrive here as Success=false.
type StepResult struct {
	Success           bool           `json:"success"`
	Message           string         `json:"message"`
	Data              map[string]any `json:"data"`
	Error             string         `json:"error,omitempty"`
	Images            []string       `json:"images,omitempty"`
	InstalledPackages []string       `json:"installed_packages,omitempty"`
	ExecutionTime     float64        `json:"execution_time,omitempty"`
}

// Ok builds a successful result.
func Ok(message string, data map[string]any) *StepResult {
	return &StepResult{Success: true, Message: message, Data: data}
}

// Fail builds a failed result.
func Fail(message string) *StepResult {
	return &StepResult{Success: false, Message: message, Error: message}
}

// FailData builds a failed result carrying data flags the executor reads
// (is_config_error, requires_user_action).
func FailData(message string, data map[string]any) *StepResult {
	return &StepResult{Success: false, Message: message, Error: message, Data: data}
}

// IsConfigError reports whether the result is flagged as a configuration
// problem; the executor surfaces these immediately without reflection.
func (r *StepResult) IsConfigError() bool {
	return r != nil && boolFlag(r.Data, "is_config_error")
}

// RequiresUserAction reports whether resolving the failure needs the user.
func (r *StepResult) RequiresUserAction() bool {
	return r != nil && boolFlag(r.Data, "requires_user_action")
}

func boolFlag(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	v, ok := data[key].(bool)
	return ok && v
}

// ExecutedStep pairs a step with its final result for the task record.
type ExecutedStep struct {
	Index  int         `json:"index"`
	Step   *Step       `json:"step"`
	Result *StepResult `json:"result"`
}

// TaskResult is the terminal payload of one execute command.
type TaskResult struct {
	Success         bool           `json:"success"`
	Message         string         `json:"message"`
	Duration        float64        `json:"duration"`
	Mode            string         `json:"mode,omitempty"`
	Steps           []ExecutedStep `json:"steps,omitempty"`
	UserInstruction string         `json:"user_instruction"`
	Fallback        bool           `json:"fallback,omitempty"`
}

// ReflectionVerdict is the reflector's answer to one failed step.
// Invariant: IsRetryable implies ModifiedStep is a fully-formed step.
type ReflectionVerdict struct {
	IsRetryable  bool   `json:"is_retryable"`
	ModifiedStep *Step  `json:"modified_step"`
	Reason       string `json:"reason"`
}

// TaskRecord is the immutable structured-memory record of one finished task.
type TaskRecord struct {
	ID            string        `json:"id"`
	Instruction   string        `json:"instruction"`
	Steps         []CompactStep `json:"steps"`
	Success       bool          `json:"success"`
	Duration      float64       `json:"duration_s"`
	FilesInvolved []string      `json:"files_involved"`
	CreatedAt     time.Time     `json:"created_at"`
}
