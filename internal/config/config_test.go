package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/safetygate/internal/alert"
	"github.com/ppiankov/safetygate/internal/audit"
	"github.com/ppiankov/safetygate/internal/llm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, hash, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, emptyHash(), hash)
	require.Equal(t, DefaultConfig().Limits, cfg.Limits)
	require.Equal(t, []string{"verified_caller"}, cfg.DefaultBoundaries)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
limits:
  request_timeout: 3s
detect:
  max_body_bytes: 2048
boundaries:
  - id: chat
    capability: model.chat
    predicate:
      roles_any: [member]
default_boundaries: [chat]
audit:
  backend: sqlite
  path: /tmp/audit.db
`)
	cfg, hash, err := Load(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "sha256:"))
	require.NotEqual(t, emptyHash(), hash)

	require.Equal(t, 3*time.Second, cfg.Limits.RequestTimeout)
	require.Equal(t, DefaultConfig().Limits.AuditTimeout, cfg.Limits.AuditTimeout)
	require.Equal(t, int64(2048), cfg.Detect.MaxBodyBytes)
	require.Len(t, cfg.Boundaries, 1)
	require.Equal(t, []string{"member"}, cfg.Boundaries[0].Predicate.RolesAny)
	require.Equal(t, audit.BackendSQLite, cfg.Audit.Backend)

	p := cfg.Pipeline()
	require.Equal(t, 3*time.Second, p.Timeout)
	require.Equal(t, int64(2048), p.Detect.MaxBodyBytes)
	require.Equal(t, []string{"chat"}, cfg.BoundaryFile().DefaultBoundaries)
}

func TestBoundariesWithoutDefaultsReplaceBuiltins(t *testing.T) {
	path := writeConfig(t, `
boundaries:
  - id: chat
    capability: model.chat
    predicate:
      require_verified: true
`)
	cfg, _, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Boundaries, 1)
	require.Empty(t, cfg.DefaultBoundaries)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, _, err := Load(writeConfig(t, "limits:\n  request_timout: 3s\n"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, _, err := Load(writeConfig(t, `
limits:
  request_timeout: -1s
audit:
  backend: s3
model:
  provider: openai
`))
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "request_timeout")
	require.Contains(t, msg, "s3")
	require.Contains(t, msg, "openai")
}

func TestLoadRejectsUndefinedDefaultBoundary(t *testing.T) {
	_, _, err := Load(writeConfig(t, "default_boundaries: [ghost]\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SAFETYGATE_AUDIT_BACKEND", audit.BackendRedis)
	t.Setenv("SAFETYGATE_REDIS_ADDR", "localhost:6380")
	t.Setenv("SAFETYGATE_JWT_SECRET", "s3cret")
	t.Setenv("SAFETYGATE_MODEL_PROVIDER", llm.ProviderGemini)
	t.Setenv("SAFETYGATE_MODEL_API_KEY", "key")
	t.Setenv("SAFETYGATE_HTTP_ADDR", "127.0.0.1:1")

	cfg, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, audit.BackendRedis, cfg.Audit.Backend)
	require.Equal(t, "localhost:6380", cfg.Audit.RedisAddr)
	require.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	require.Equal(t, llm.ProviderGemini, cfg.Model.Provider)
	require.Equal(t, "key", cfg.Model.APIKey)
	require.Equal(t, "127.0.0.1:1", cfg.HTTP.Addr)
}

func TestValidateGeminiNeedsKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Provider = llm.ProviderGemini
	require.ErrorContains(t, cfg.Validate(), "api_key")
}

func TestValidateAlertsAndLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alerts = []alert.AlertConfig{{Format: "teams"}}
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	require.ErrorContains(t, err, "alerts[0].url")
	require.ErrorContains(t, err, "teams")
	require.ErrorContains(t, err, "xml")
}
