package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingConfig(t *testing.T) string {
	return "--config=" + filepath.Join(t.TempDir(), "absent.yaml")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{missingConfig(t)})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, int64(512), cfg.WS.MaxMessageSize)
	assert.Equal(t, 256, cfg.WS.SendBuffer)
	assert.Equal(t, 5, cfg.WS.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.WS.RateLimit.RefillInterval)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
	assert.True(t, cfg.Auth.TrustHandshakeUserID)
	assert.True(t, cfg.HTTP.AllowMissingOrigin)
	assert.False(t, cfg.IsProduction())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("ECHOES_HTTP_ADDR", ":9090")
	t.Setenv("ECHOES_HTTP_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("ECHOES_WS_RATE_LIMIT_BURST", "10")
	t.Setenv("ECHOES_STORE_DRIVER", " MEMORY ")
	t.Setenv("ECHOES_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("ECHOES_AUTH_TRUST_HANDSHAKE_USER_ID", "false")
	t.Setenv("ECHOES_HTTP_ALLOW_MISSING_ORIGIN", "false")
	t.Setenv("ECHOES_ENV", "production")

	cfg, err := Load([]string{missingConfig(t)})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.False(t, cfg.HTTP.AllowMissingOrigin)
	assert.Equal(t, 10, cfg.WS.RateLimit.Burst)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.False(t, cfg.Auth.TrustHandshakeUserID)
	assert.True(t, cfg.IsProduction())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echoes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
level: debug
ws:
  max_message_size: -1
  rate_limit:
    burst: 0
    refill_interval: 0s
nats:
  enabled: true
  subject_prefix: chat
`), 0o600))

	cfg, err := Load([]string{"--config", path, "--http.addr", ":7000"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, int64(512), cfg.WS.MaxMessageSize, "invalid size falls back")
	assert.Equal(t, 5, cfg.WS.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.WS.RateLimit.RefillInterval)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "chat", cfg.NATS.SubjectPrefix)
}

func TestLoadBadFlag(t *testing.T) {
	_, err := Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load([]string{missingConfig(t)})
	require.NoError(t, err)

	assert.Error(t, cfg.Validate(), "jwt secret is required")

	cfg.Auth.JWTSecret = "x"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Driver = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg.Store.Driver = DriverMemory
	cfg.S3.Enabled = true
	assert.Error(t, cfg.Validate())
	cfg.S3.Bucket = "uploads"
	assert.NoError(t, cfg.Validate())
}

func TestInitLogging(t *testing.T) {
	logger := InitLogging("debug", false)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(-1))

	logger = InitLogging("bogus", true)
	assert.False(t, logger.Core().Enabled(-1))
}
