package protocol

import "encoding/json"

// Command is one line received on stdin.
type Command struct {
	Cmd         string         `json:"cmd"`
	ID          string         `json:"id"`
	Instruction string         `json:"instruction,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// Command names.
const (
	CmdExecute  = "execute"
	CmdPing     = "ping"
	CmdShutdown = "shutdown"
)

// Event is one line written to stdout. Timestamp is seconds since epoch.
type Event struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	ID        string  `json:"id,omitempty"`
	Message   string  `json:"message,omitempty"`
	Data      any     `json:"data,omitempty"`
}

// Event types.
const (
	EventReady            = "ready"
	EventPong             = "pong"
	EventShutdownAck      = "shutdown_ack"
	EventProgress         = "progress"
	EventThinking         = "thinking"
	EventPlanReady        = "plan_ready"
	EventExecutionStarted = "execution_started"
	EventStepStarted      = "step_started"
	EventStepCompleted    = "step_completed"
	EventStepFailed       = "step_failed"
	EventRequestInput     = "request_input"
	EventWaitingForInput  = "waiting_for_input"
	EventResult           = "result"
	EventError            = "error"
)

// InputRequest is the payload of a request_input event. The host writes the
// response to a well-known file identified by the request id.
type InputRequest struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Title        string       `json:"title"`
	Message      string       `json:"message,omitempty"`
	Fields       []InputField `json:"fields"`
	CaptchaImage string       `json:"captchaImage,omitempty"`
}

// Input request types.
const (
	InputLogin       = "login"
	InputCaptcha     = "captcha"
	InputQRLogin     = "qr_login"
	InputEmailConfig = "email_config"
	InputCustom      = "custom"
)

type InputField struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Type        string `json:"type,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// InputResponse is what the host writes back.
type InputResponse struct {
	RequestID string            `json:"request_id"`
	Cancelled bool              `json:"cancelled,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
}

// ParseCommand decodes one stdin line.
func ParseCommand(line []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
