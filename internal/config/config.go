package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"

	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/natefinch/atomic"
	"github.com/spf13/pflag"
)

// Recognized settings. Everything else is retained as a passthrough key so
// UI-side edits survive a save cycle.
const (
	KeyProvider      = "provider"
	KeyModel         = "model"
	KeyAPIKey        = "api_key"
	KeySandboxPath   = "sandbox_path"
	KeyAutoConfirm   = "auto_confirm"
	KeyLogLevel      = "log_level"
	KeySMTPHost      = "smtp_host"
	KeySMTPPort      = "smtp_port"
	KeyIMAPHost      = "imap_host"
	KeyEmailAddress  = "email_address"
	KeyEmailPassword = "email_password"
)

const (
	DefaultProvider    = "claude"
	DefaultLogLevel    = "info"
	DefaultAutoConfirm = false
	DefaultSMTPPort    = 465
)

// defaultModels is the per-provider fallback when `model` is unset.
var defaultModels = map[string]string{
	"claude":   "claude-3-5-sonnet-20241022",
	"openai":   "gpt-4o-mini",
	"deepseek": "deepseek-chat",
	"grok":     "grok-2-latest",
	"gemini":   "gemini-2.0-flash",
}

// DefaultModelFor returns the default model for a provider, "" when the
// provider is unknown.
func DefaultModelFor(provider string) string {
	return defaultModels[strings.ToLower(strings.TrimSpace(provider))]
}

// Store is the process-wide config store backed by config.json. Reload
// swaps a fresh snapshot under the mutex, so concurrent readers always see
// a consistent view; the UI edits the file between tasks and the
// orchestrator reloads at the start of every task.
type Store struct {
	mu    sync.RWMutex
	path  string
	flags *pflag.FlagSet
	k     *koanf.Koanf
}

// New loads the store from path. A missing file is legal (defaults apply);
// a malformed one is ErrConfig and the service must refuse to start.
func New(path string, flags *pflag.FlagSet) (*Store, error) {
	s := &Store{path: path, flags: flags}
	k, err := s.build()
	if err != nil {
		return nil, err
	}
	s.k = k
	return s, nil
}

func (s *Store) build() (*koanf.Koanf, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		KeyProvider:    DefaultProvider,
		KeyLogLevel:    DefaultLogLevel,
		KeyAutoConfirm: DefaultAutoConfirm,
		KeySMTPPort:    DefaultSMTPPort,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if s.path != "" {
		if _, err := os.Stat(s.path); err == nil {
			if err := k.Load(file.Provider(s.path), koanfjson.Parser()); err != nil {
				return nil, karakuriErrors.WrapWithCategory(err, "malformed config file "+s.path, karakuriErrors.ErrConfig)
			}
		}
	}

	k.Load(env.Provider("KARAKURI_", ".", func(raw string) string {
		return strings.ToLower(strings.TrimPrefix(raw, "KARAKURI_"))
	}), nil)

	if s.flags != nil {
		k.Load(posflag.Provider(s.flags, ".", k), nil)
	}

	return k, nil
}

// Reload re-reads the file and environment layers and swaps the snapshot.
func (s *Store) Reload() error {
	k, err := s.build()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.k = k
	return nil
}

// Save persists the current snapshot atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	raw := s.k.Raw()
	s.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return karakuriErrors.Wrap(err, "marshal config")
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return karakuriErrors.Wrap(err, "write config")
	}
	return nil
}

// Get returns the raw value for a key, nil when unset.
func (s *Store) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Get(key)
}

// Set stores a value in the snapshot. Call Save to persist.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.k.Set(key, value)
}

func (s *Store) getString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strings.TrimSpace(s.k.String(key))
}

// Provider returns the configured LLM provider name.
func (s *Store) Provider() string {
	p := s.getString(KeyProvider)
	if p == "" {
		return DefaultProvider
	}
	return strings.ToLower(p)
}

// Model returns the configured model, falling back to the per-provider
// default when unset.
func (s *Store) Model() string {
	if m := s.getString(KeyModel); m != "" {
		return m
	}
	return DefaultModelFor(s.Provider())
}

// APIKey returns the configured API key, falling back to the conventional
// environment variable for the active provider.
func (s *Store) APIKey() string {
	if key := s.getString(KeyAPIKey); key != "" {
		return key
	}
	switch s.Provider() {
	case "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "deepseek":
		return os.Getenv("DEEPSEEK_API_KEY")
	case "grok":
		return os.Getenv("XAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}

// SandboxPath returns the script scratch directory, "" when unset.
func (s *Store) SandboxPath() string {
	return s.getString(KeySandboxPath)
}

// AutoConfirm reports whether dangerous steps skip the confirmation gate.
func (s *Store) AutoConfirm() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Bool(KeyAutoConfirm)
}

// LogLevel returns the configured log level string.
func (s *Store) LogLevel() string {
	level := s.getString(KeyLogLevel)
	if level == "" {
		return DefaultLogLevel
	}
	return level
}

// SMTPHost returns the outbound mail host.
func (s *Store) SMTPHost() string { return s.getString(KeySMTPHost) }

// SMTPPort returns the outbound mail port.
func (s *Store) SMTPPort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if port := s.k.Int(KeySMTPPort); port > 0 {
		return port
	}
	return DefaultSMTPPort
}

// IMAPHost returns the inbound mail host.
func (s *Store) IMAPHost() string { return s.getString(KeyIMAPHost) }

// EmailAddress returns the configured mail account.
func (s *Store) EmailAddress() string { return s.getString(KeyEmailAddress) }

// EmailPassword returns the configured mail credential.
func (s *Store) EmailPassword() string { return s.getString(KeyEmailPassword) }

// EmailConfigured reports whether the SMTP/IMAP quartet is usable.
func (s *Store) EmailConfigured() bool {
	return s.EmailAddress() != "" && s.EmailPassword() != ""
}
