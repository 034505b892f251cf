package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/factories"
)

// clearEnv unsets key for the test and restores it afterwards.
func clearEnv(t *testing.T, key string) {
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestEnvFileSetsFlagDefaults(t *testing.T) {
	clearEnv(t, "AGENT_VARIANT")
	clearEnv(t, "SETTINGS_PATH")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGENT_VARIANT=realestate\nSETTINGS_PATH=/etc/kiosk/settings.json\n"), 0o600))

	opts, err := parseCommandLine(nil, envFile)
	require.NoError(t, err)
	assert.Equal(t, factories.VariantRealEstate, opts.variantName)
	assert.Equal(t, "/etc/kiosk/settings.json", opts.settingsPath)
}

func TestFlagsOverrideEnvFile(t *testing.T) {
	clearEnv(t, "AGENT_VARIANT")
	clearEnv(t, "SETTINGS_PATH")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGENT_VARIANT=realestate\n"), 0o600))

	opts, err := parseCommandLine([]string{"-variant", "healthcare", "-dev", "-connect", "lobby"}, envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, factories.VariantHealthcare, opts.variantName)
	assert.Empty(t, opts.settingsPath)
	assert.True(t, opts.devMode)
	assert.Equal(t, "lobby", opts.connectRoom)
}
