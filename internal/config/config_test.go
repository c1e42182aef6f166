package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WALKER_LLM_API_KEY", "sk-test")
	t.Setenv("WALKER_FORGE_REPO", "acme/widgets")
	t.Setenv("WALKER_CHAT_BOT_TOKEN", "xoxb-test")
	t.Setenv("WALKER_CHAT_APP_TOKEN", "xapp-test")
	t.Setenv("WALKER_STORE_URL", "file:test.db")
	t.Setenv("WALKER_EDITOR_BASE_URL", "http://editor.local")
	t.Setenv("WALKER_CHAT_SOCKET_URL", "wss://chat.local/socket")
	t.Setenv("WALKER_DOGS", `[{"name":"Rex","email":"rex@example.com","credential":"tok"}]`)
}

func TestLoadSucceedsWithRequiredEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", cfg.ForgeRepo)
	assert.Equal(t, "main", cfg.BaseBranch)
	assert.Len(t, cfg.Dogs, 1)
}

func TestLoadFailsOnMissingRequiredField(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WALKER_CHAT_SOCKET_URL", "")

	_, err := Load()
	assert.ErrorContains(t, err, "WALKER_CHAT_SOCKET_URL")
}

func TestLoadFailsOnMalformedForgeRepo(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WALKER_FORGE_REPO", "not-a-valid-repo")

	_, err := Load()
	assert.ErrorContains(t, err, "owner/repo")
}

func TestLoadFailsOnEmptyRoster(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WALKER_DOGS", "[]")

	_, err := Load()
	assert.Error(t, err)
}

func TestEditorAPIKeyFallsBackToLLMKey(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.LLMAPIKey, cfg.EditorAPIKey)
}

func TestQueueURLFallsBackToStoreURL(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.StoreURL, cfg.QueueURL)
}

func TestForgeTokenFallsBackToFirstDogCredential(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.ForgeToken)
}
