package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	store, err := New(filepath.Join(t.TempDir(), "config.json"), nil)
	require.NoError(t, err)

	assert.Equal(t, "claude", store.Provider())
	assert.Equal(t, "claude-3-5-sonnet-20241022", store.Model())
	assert.Equal(t, "info", store.LogLevel())
	assert.False(t, store.AutoConfirm())
	assert.False(t, store.EmailConfigured())
}

func TestModelFallsBackPerProvider(t *testing.T) {
	path := writeConfig(t, `{"provider":"deepseek"}`)
	store, err := New(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "deepseek-chat", store.Model())

	store.Set(KeyModel, "deepseek-reasoner")
	assert.Equal(t, "deepseek-reasoner", store.Model())
}

func TestMalformedFileRefusesToLoad(t *testing.T) {
	path := writeConfig(t, `{"provider": "openai",`)
	_, err := New(path, nil)
	assert.ErrorIs(t, err, karakuriErrors.ErrConfig)
}

func TestReloadPicksUpFileEdits(t *testing.T) {
	path := writeConfig(t, `{"provider":"claude"}`)
	store, err := New(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", store.Provider())

	require.NoError(t, os.WriteFile(path, []byte(`{"provider":"openai","model":"gpt-4o"}`), 0o644))
	require.NoError(t, store.Reload())

	assert.Equal(t, "openai", store.Provider())
	assert.Equal(t, "gpt-4o", store.Model())
}

func TestReloadDropsUnsavedSets(t *testing.T) {
	path := writeConfig(t, `{"provider":"claude"}`)
	store, err := New(path, nil)
	require.NoError(t, err)

	store.Set(KeyProvider, "grok")
	assert.Equal(t, "grok", store.Provider())

	require.NoError(t, store.Reload())
	assert.Equal(t, "claude", store.Provider(), "reload must swap in a fresh snapshot")
}

func TestSaveRoundTripKeepsPassthroughKeys(t *testing.T) {
	path := writeConfig(t, `{"provider":"openai","ui_theme":"dark"}`)
	store, err := New(path, nil)
	require.NoError(t, err)

	store.Set(KeyAutoConfirm, true)
	require.NoError(t, store.Save())

	reloaded, err := New(path, nil)
	require.NoError(t, err)
	assert.True(t, reloaded.AutoConfirm())
	assert.Equal(t, "dark", reloaded.Get("ui_theme"), "unknown keys pass through save")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("KARAKURI_PROVIDER", "gemini")

	store, err := New(filepath.Join(t.TempDir(), "config.json"), nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini", store.Provider())
	assert.Equal(t, "gemini-2.0-flash", store.Model())
}

func TestAPIKeyEnvFallback(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "sk-env")
	path := writeConfig(t, `{"provider":"deepseek"}`)
	store, err := New(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", store.APIKey())

	store.Set(KeyAPIKey, "sk-file")
	assert.Equal(t, "sk-file", store.APIKey())
}

func TestEmailQuartet(t *testing.T) {
	path := writeConfig(t, `{"smtp_host":"smtp.example.com","smtp_port":587,"imap_host":"imap.example.com","email_address":"a@example.com","email_password":"secret"}`)
	store, err := New(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com", store.SMTPHost())
	assert.Equal(t, 587, store.SMTPPort())
	assert.Equal(t, "imap.example.com", store.IMAPHost())
	assert.True(t, store.EmailConfigured())
}
