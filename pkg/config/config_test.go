package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validKey = "01234567890123456789012345678901"

func clearPailflowEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_DIR", "HTTP_PORT", "ENCRYPTION_KEY",
		"USE_MODAL_BOTS", "MODAL_API_HOST", "MODAL_APP_NAME", "MODAL_FUNCTION_NAME", "MODAL_API_KEY",
		"FLY_API_HOST", "FLY_APP_NAME", "FLY_API_KEY",
		"BOT_CALL_RATE_PER_MINUTE", "DB_HOST", "DB_PORT",
	} {
		t.Setenv(key, "")
	}
}

func TestInitialize_FailsWithoutEncryptionKey(t *testing.T) {
	clearPailflowEnv(t)
	t.Setenv("CONFIG_DIR", t.TempDir())

	_, err := Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
}

func TestInitialize_AppliesDefaultsWhenOnlyEncryptionKeySet(t *testing.T) {
	clearPailflowEnv(t)
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("ENCRYPTION_KEY", validKey)

	cfg, err := Initialize()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 0.15, cfg.Pricing.BotCallRatePerMinute)
	assert.Equal(t, "in_process", cfg.Placement.PreferredBackend())
}

func TestInitialize_EnvOverridesYAMLOverridesDefaults(t *testing.T) {
	clearPailflowEnv(t)
	dir := t.TempDir()
	yamlContents := "http_port: \"9090\"\npricing:\n  bot_call_rate_per_minute: 0.25\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pailflow.yaml"), []byte(yamlContents), 0o644))

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("ENCRYPTION_KEY", validKey)
	// HTTP_PORT left unset: the YAML value should win over the hardcoded default.
	cfg, err := Initialize()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 0.25, cfg.Pricing.BotCallRatePerMinute)

	// Now set HTTP_PORT explicitly: the env var should win over the YAML file.
	t.Setenv("HTTP_PORT", "7070")
	cfg, err = Initialize()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.HTTPPort)
	assert.Equal(t, 0.25, cfg.Pricing.BotCallRatePerMinute)
}

func TestInitialize_MissingYAMLFileIsNotAnError(t *testing.T) {
	clearPailflowEnv(t)
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("ENCRYPTION_KEY", validKey)

	_, err := Initialize()
	require.NoError(t, err)
}

func TestInitialize_RejectsNonPositiveCallRate(t *testing.T) {
	clearPailflowEnv(t)
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("ENCRYPTION_KEY", validKey)
	t.Setenv("BOT_CALL_RATE_PER_MINUTE", "0")

	_, err := Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_CALL_RATE_PER_MINUTE")
}

func TestPlacementConfig_PreferredBackend(t *testing.T) {
	t.Run("function when fully configured and enabled", func(t *testing.T) {
		p := PlacementConfig{UseFunctionBots: true, FunctionAppName: "app", FunctionName: "fn"}
		assert.Equal(t, "function", p.PreferredBackend())
	})
	t.Run("vm when fly credentials present", func(t *testing.T) {
		p := PlacementConfig{FlyAppName: "app", FlyAPIKey: "key"}
		assert.Equal(t, "vm", p.PreferredBackend())
	})
	t.Run("in_process as the fallback", func(t *testing.T) {
		assert.Equal(t, "in_process", PlacementConfig{}.PreferredBackend())
	})
}
