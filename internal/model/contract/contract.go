package contract

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions carries the provider-independent knobs of one chat call.
// Provider-specific quirks (JSON mode flag, system-prompt slot) are handled
// inside each provider, never by callers.
type ChatOptions struct {
	System      string  `json:"system,omitempty"`
	JSONMode    bool    `json:"json_mode,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
