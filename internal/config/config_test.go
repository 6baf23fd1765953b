package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvironmentDefaults(t *testing.T) {
	os.Clearenv()
	cfg := FromEnvironment()

	assert.Equal(t, "0.0.0.0", cfg.AppHost)
	assert.Equal(t, 8000, cfg.AppPort)
	assert.Equal(t, "memory", cfg.SecretBackend)
}

func TestSplitCORSOrigins(t *testing.T) {
	os.Clearenv()
	os.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,,http://c.test")
	cfg := FromEnvironment()

	assert.Equal(t, []string{"http://a.test", "http://b.test", "http://c.test"}, cfg.CORSOrigins)
}

func TestValidateRequiresSecretKey(t *testing.T) {
	cfg := &Config{SecretKey: "short"}
	require.Error(t, cfg.Validate())

	cfg.SecretKey = "sixteen-characters-or-more"
	require.NoError(t, cfg.Validate())
}

func TestMergeWithEnvOverridesFile(t *testing.T) {
	os.Clearenv()
	cfg := &Config{AppHost: "127.0.0.1", AppPort: 9000}
	os.Setenv("APP_PORT", "9100")

	cfg.MergeWithEnv()
	assert.Equal(t, 9100, cfg.AppPort)
	assert.Equal(t, "127.0.0.1", cfg.AppHost)
}
