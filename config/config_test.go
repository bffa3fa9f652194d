package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "!", cfg.Chat.Prefix)
	assert.Equal(t, "pc", cfg.Chat.Command)
	assert.Equal(t, 500*time.Millisecond, cfg.Chat.ActionDelay)
	assert.Equal(t, "ollama", cfg.Server.Backend)
	assert.Equal(t, 25, cfg.Agent.MaxSteps)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
chat:
  token: abc
  channel: "123"
  action_delay: 250ms
server:
  port: 6000
  api_key: from-file
tunnel:
  enabled: false
`)
	t.Setenv("RELAY_SERVER_API_KEY", "from-env")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Chat.Token)
	assert.Equal(t, 250*time.Millisecond, cfg.Chat.ActionDelay)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.APIKey)
	assert.Equal(t, "google-key", cfg.Google.APIKey)
	assert.NoError(t, cfg.ValidateServer())
	assert.NoError(t, cfg.ValidateChat())
}

func TestValidateServerRejectsPlaceholders(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.ErrorContains(t, cfg.ValidateServer(), "server.api_key")

	cfg.Server.APIKey = "1234"
	assert.ErrorContains(t, cfg.ValidateServer(), "tunnel.auth_token")

	cfg.Tunnel.Enabled = false
	assert.NoError(t, cfg.ValidateServer())

	cfg.Server.Backend = "torch"
	assert.ErrorContains(t, cfg.ValidateServer(), "server.backend")
}

func TestValidateChatRejectsPlaceholders(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.ValidateChat(), "chat.token")

	cfg.Chat.Token = "tok"
	assert.ErrorContains(t, cfg.ValidateChat(), "chat.channel")

	cfg.Chat.Channel = ""
	assert.NoError(t, cfg.ValidateChat())
}

func TestEnsureFileWritesTemplateOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	err := EnsureFile(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigCreated))
	assert.FileExists(t, path)

	assert.NoError(t, EnsureFile(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, placeholderChatToken, cfg.Chat.Token)
}
