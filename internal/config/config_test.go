package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 2.0, cfg.License.VerifyTimeout)
	assert.Equal(t, 2, cfg.License.VerifyRetries)
	assert.Equal(t, "forgecli-licensing", cfg.License.Issuer)
	assert.Equal(t, "forgecli", cfg.License.Audience)
	assert.False(t, cfg.License.AllowSymmetric)
	assert.False(t, cfg.License.TierUnificationOverride)
	assert.Empty(t, cfg.License.VerifierURL)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRatio)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FORGE_LICENSE_VERIFIER_URL", "https://verify.forgecli.dev")
	t.Setenv("FORGE_LICENSE_TIER", "pro")
	t.Setenv("FORGE_LICENSE_VERIFY_TIMEOUT", "5.5")
	t.Setenv("FORGE_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://verify.forgecli.dev", cfg.License.VerifierURL)
	assert.Equal(t, "pro", cfg.License.Tier)
	assert.Equal(t, 5500*time.Millisecond, cfg.License.Timeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad tier", "FORGE_LICENSE_TIER", "platinum"},
		{"bad verifier URL", "FORGE_LICENSE_VERIFIER_URL", "not-a-url"},
		{"bad log level", "FORGE_LOGGING_LEVEL", "noisy"},
		{"negative retries", "FORGE_LICENSE_VERIFY_RETRIES", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })
	return dir
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
server:
  port: 9999
  read_timeout: 5s
logging:
  level: warn
license:
  environment: staging
  verify_timeout: 3.5
  verify_retries: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forgecli.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	// File values survive the env overlay when no variable is set. This is
	// why defaults live in Default() and not in envconfig tags: a default
	// tag is applied whenever the variable is absent and would clobber the
	// file's values.
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "staging", cfg.License.Environment)
	assert.Equal(t, 3500*time.Millisecond, cfg.License.Timeout())
	assert.Equal(t, 4, cfg.License.VerifyRetries)

	// Values absent from the file keep their defaults.
	assert.Equal(t, "forgecli-licensing", cfg.License.Issuer)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
server:
  port: 9999
license:
  verify_retries: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forgecli.yaml"), []byte(yaml), 0o600))
	t.Setenv("FORGE_SERVER_PORT", "8888")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8888, cfg.Server.Port)
	// Fields without an env override keep the file's value.
	assert.Equal(t, 4, cfg.License.VerifyRetries)
}

func TestResolveCachePath(t *testing.T) {
	t.Run("explicit override wins", func(t *testing.T) {
		cfg := LicenseConfig{CachePath: "/tmp/custom/cache.json"}
		path, err := cfg.ResolveCachePath()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/custom/cache.json", path)
	})

	t.Run("defaults under the user cache dir", func(t *testing.T) {
		path, err := LicenseConfig{}.ResolveCachePath()
		require.NoError(t, err)
		assert.Contains(t, path, "forgecli")
		assert.Equal(t, "entitlements.json", filepath.Base(path))
	})
}

func TestPublicKeyPEM(t *testing.T) {
	t.Run("embedded key parses as RSA", func(t *testing.T) {
		pem, err := LicenseConfig{}.PublicKeyPEM()
		require.NoError(t, err)
		_, err = jwt.ParseRSAPublicKeyFromPEM(pem)
		require.NoError(t, err)
	})

	t.Run("file override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key.pem")
		require.NoError(t, os.WriteFile(path, []byte("custom-pem"), 0o600))
		pem, err := LicenseConfig{PublicKeyPath: path}.PublicKeyPEM()
		require.NoError(t, err)
		assert.Equal(t, []byte("custom-pem"), pem)
	})

	t.Run("missing override file", func(t *testing.T) {
		_, err := LicenseConfig{PublicKeyPath: "/does/not/exist.pem"}.PublicKeyPEM()
		require.Error(t, err)
	})
}
