package envconfig

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnviron_UnsetVarsAreNil(t *testing.T) {
	o := FromEnviron()
	assert.Nil(t, o.APIKey)
	assert.Nil(t, o.RetryMaxAttempts)
}

func TestFromEnviron_ReadsKnownVars(t *testing.T) {
	t.Setenv("SECAPI_API_KEY", "test-key-0123456789")
	t.Setenv("SECAPI_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("SECAPI_RETRY_INITIAL_DELAY", "0.5")
	t.Setenv("SECAPI_RATE_LIMIT_THRESHOLD", "0.25")
	t.Setenv("SECAPI_DEFAULT_LOGGING", "true")

	o := FromEnviron()
	require.NotNil(t, o.APIKey)
	assert.Equal(t, "test-key-0123456789", *o.APIKey)
	require.NotNil(t, o.RetryMaxAttempts)
	assert.Equal(t, 7, *o.RetryMaxAttempts)
	require.NotNil(t, o.RetryInitialDelay)
	assert.Equal(t, 500*time.Millisecond, *o.RetryInitialDelay)
	require.NotNil(t, o.RateLimitThreshold)
	assert.Equal(t, 0.25, *o.RateLimitThreshold)
	require.NotNil(t, o.DefaultLogging)
	assert.True(t, *o.DefaultLogging)
}

func TestFromEnviron_UnparseableValueIsIgnored(t *testing.T) {
	t.Setenv("SECAPI_RETRY_MAX_ATTEMPTS", "not-a-number")
	o := FromEnviron()
	assert.Nil(t, o.RetryMaxAttempts)
}

func TestFromYAMLFile_MissingFileIsNotAnError(t *testing.T) {
	o, err := FromYAMLFile("/nonexistent/path/does-not-exist.yaml")
	require.NoError(t, err)
	assert.Nil(t, o.APIKey)
}

func TestFromYAMLFile_ParsesKnownFields(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "secapi-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(`
api_key: yaml-key-0123456789
base_url: https://override.example/v1
retry_max_attempts: 3
retry_initial_delay_seconds: 1.5
rate_limit_threshold: 0.2
default_logging: true
`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	o, err := FromYAMLFile(f.Name())
	require.NoError(t, err)
	require.NotNil(t, o.APIKey)
	assert.Equal(t, "yaml-key-0123456789", *o.APIKey)
	require.NotNil(t, o.BaseURL)
	assert.Equal(t, "https://override.example/v1", *o.BaseURL)
	require.NotNil(t, o.RetryMaxAttempts)
	assert.Equal(t, 3, *o.RetryMaxAttempts)
	require.NotNil(t, o.RetryInitialDelay)
	assert.Equal(t, 1500*time.Millisecond, *o.RetryInitialDelay)
}

func TestFromYAMLFile_MalformedYAMLErrors(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "secapi-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("not: valid: yaml: [")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = FromYAMLFile(f.Name())
	assert.Error(t, err)
}
