package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("SESSION_API_BASE_URL", "http://api.local")

	v, err := Load(t.TempDir(), "absent")
	require.NoError(t, err)
	assert.Equal(t, "http://api.local", v.GetString("session.api_base_url"))
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat.yaml"), []byte("typing:\n  decay: 4s\n"), 0o600))

	v, err := Load(dir, "chat")
	require.NoError(t, err)
	assert.Equal(t, "4s", v.GetString("typing.decay"))
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("CHAT_DOTENV_A=from-file\nCHAT_DOTENV_B=from-file\n"), 0o600))
	t.Setenv("CHAT_DOTENV_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("CHAT_DOTENV_B") })

	require.NoError(t, LoadDotEnv(file, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("CHAT_DOTENV_A"))
	assert.Equal(t, "from-file", os.Getenv("CHAT_DOTENV_B"))
}
