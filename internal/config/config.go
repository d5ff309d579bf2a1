// Package config loads the safetygate configuration file and applies
// environment overrides.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/safetygate/internal/alert"
	"github.com/ppiankov/safetygate/internal/audit"
	"github.com/ppiankov/safetygate/internal/boundary"
	"github.com/ppiankov/safetygate/internal/detect"
	"github.com/ppiankov/safetygate/internal/hook"
	"github.com/ppiankov/safetygate/internal/llm"
	"github.com/ppiankov/safetygate/internal/logging"
	"github.com/ppiankov/safetygate/internal/pipeline"
	"github.com/ppiankov/safetygate/internal/session"
	"github.com/ppiankov/safetygate/internal/wellbeing"
)

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Limits bound one request.
type Limits struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AuditTimeout   time.Duration `yaml:"audit_timeout"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	Leeway    time.Duration `yaml:"leeway"`
}

// ListenConfig is a listener address. Empty disables the listener.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the whole configuration document.
type Config struct {
	Log               LogConfig             `yaml:"log"`
	Limits            Limits                `yaml:"limits"`
	Detect            detect.Config         `yaml:"detect"`
	Hook              hook.Config           `yaml:"hook"`
	Wellbeing         wellbeing.Config      `yaml:"wellbeing"`
	Sessions          session.Config        `yaml:"sessions"`
	Boundaries        []boundary.Definition `yaml:"boundaries"`
	DefaultBoundaries []string              `yaml:"default_boundaries"`
	Audit             audit.Config          `yaml:"audit"`
	Model             llm.Config            `yaml:"model"`
	Alerts            []alert.AlertConfig   `yaml:"alerts"`
	Auth              AuthConfig            `yaml:"auth"`
	HTTP              ListenConfig          `yaml:"http"`
	GRPC              ListenConfig          `yaml:"grpc"`
}

// Dir returns ~/.safetygate, or .safetygate when the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".safetygate"
	}
	return filepath.Join(home, ".safetygate")
}

// DefaultPath is the configuration file used when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns the built-in configuration. Every request must
// come from a verified caller.
func DefaultConfig() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: logging.FormatJSON},
		Limits:    Limits{RequestTimeout: pipeline.DefaultTimeout, AuditTimeout: pipeline.DefaultAuditTimeout},
		Detect:    detect.DefaultConfig(),
		Hook:      hook.DefaultConfig(),
		Wellbeing: wellbeing.DefaultConfig(),
		Sessions: session.Config{
			IdleTimeout:      session.DefaultIdleTimeout,
			SweepInterval:    time.Minute,
			HistorySize:      session.DefaultHistorySize,
			FingerprintCache: session.DefaultFingerprintCache,
		},
		Boundaries: []boundary.Definition{{
			ID:         "verified_caller",
			Capability: "model.invoke",
			Predicate:  boundary.PredicateSpec{RequireVerified: true},
		}},
		DefaultBoundaries: []string{"verified_caller"},
		Audit: audit.Config{
			Backend:     audit.BackendFile,
			Path:        filepath.Join(Dir(), "audit.jsonl"),
			Retries:     3,
			Backoff:     50 * time.Millisecond,
			PingTimeout: 2 * time.Second,
		},
		Model: llm.Config{Provider: llm.ProviderEcho, Timeout: 8 * time.Second},
		Auth:  AuthConfig{Leeway: 30 * time.Second},
		HTTP:  ListenConfig{Addr: ":8080"},
		GRPC:  ListenConfig{Addr: ":9090"},
	}
}

// emptyHash is the hash reported when defaults are used.
func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Load reads path, applies environment overrides and validates.
// Empty path falls back to DefaultPath. A missing file yields defaults.
// The returned hash covers the raw file bytes.
func Load(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	hash := emptyHash()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		h := sha256.Sum256(data)
		hash = "sha256:" + hex.EncodeToString(h[:])
		if err := decode(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// decode overlays YAML onto cfg. Unknown keys are errors. The built-in
// boundary table is kept only when the file defines no boundaries at all.
func decode(data []byte, cfg *Config) error {
	defs, defaults := cfg.Boundaries, cfg.DefaultBoundaries
	cfg.Boundaries, cfg.DefaultBoundaries = nil, nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if len(cfg.Boundaries) == 0 && len(cfg.DefaultBoundaries) == 0 {
		cfg.Boundaries, cfg.DefaultBoundaries = defs, defaults
	}
	return nil
}

// env lists the supported environment overrides.
type env struct {
	AuditBackend  string `env:"SAFETYGATE_AUDIT_BACKEND"`
	AuditPath     string `env:"SAFETYGATE_AUDIT_PATH"`
	RedisAddr     string `env:"SAFETYGATE_REDIS_ADDR"`
	JWTSecret     string `env:"SAFETYGATE_JWT_SECRET"`
	ModelProvider string `env:"SAFETYGATE_MODEL_PROVIDER"`
	ModelAPIKey   string `env:"SAFETYGATE_MODEL_API_KEY"`
	HTTPAddr      string `env:"SAFETYGATE_HTTP_ADDR"`
	GRPCAddr      string `env:"SAFETYGATE_GRPC_ADDR"`
	LogLevel      string `env:"SAFETYGATE_LOG_LEVEL"`
}

// ApplyEnv overrides cfg from SAFETYGATE_* variables.
func ApplyEnv(cfg *Config) error {
	var e env
	if err := envdecode.Decode(&e); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Audit.Backend, e.AuditBackend)
	set(&cfg.Audit.Path, e.AuditPath)
	set(&cfg.Audit.RedisAddr, e.RedisAddr)
	set(&cfg.Auth.JWTSecret, e.JWTSecret)
	set(&cfg.Model.Provider, e.ModelProvider)
	set(&cfg.Model.APIKey, e.ModelAPIKey)
	set(&cfg.HTTP.Addr, e.HTTPAddr)
	set(&cfg.GRPC.Addr, e.GRPCAddr)
	set(&cfg.Log.Level, e.LogLevel)
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); c.Log.Level != "" && err != nil {
		add("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", logging.FormatJSON, logging.FormatConsole:
	default:
		add("log.format: unknown format %q", c.Log.Format)
	}

	if c.Limits.RequestTimeout <= 0 {
		add("limits.request_timeout must be positive")
	}
	if c.Limits.AuditTimeout <= 0 {
		add("limits.audit_timeout must be positive")
	}
	if c.Detect.MaxBodyBytes <= 0 {
		add("detect.max_body_bytes must be positive")
	}
	if c.Detect.EntropyThreshold < 0 || c.Detect.EntropyThreshold > 8 {
		add("detect.entropy_threshold must be within [0,8]")
	}
	if c.Sessions.IdleTimeout <= 0 {
		add("sessions.idle_timeout must be positive")
	}
	if c.Sessions.HistorySize < 0 || c.Sessions.FingerprintCache < 0 {
		add("sessions sizes must not be negative")
	}

	switch c.Audit.Backend {
	case audit.BackendFile, audit.BackendSQLite:
		if c.Audit.Path == "" {
			add("audit.path is required for backend %q", c.Audit.Backend)
		}
	case audit.BackendRedis:
		if c.Audit.RedisAddr == "" {
			add("audit.redis_addr is required for backend %q", c.Audit.Backend)
		}
	default:
		add("audit.backend: unknown backend %q", c.Audit.Backend)
	}
	if c.Audit.Retries < 0 {
		add("audit.retries must not be negative")
	}

	switch c.Model.Provider {
	case llm.ProviderEcho, llm.ProviderStatic, llm.ProviderBedrock:
	case llm.ProviderGemini:
		if c.Model.APIKey == "" {
			add("model.api_key is required for provider %q", c.Model.Provider)
		}
	default:
		add("model.provider: unknown provider %q", c.Model.Provider)
	}

	for i, a := range c.Alerts {
		if a.URL == "" {
			add("alerts[%d].url is required", i)
		}
		switch a.Format {
		case "", "generic", "slack", "pagerduty":
		default:
			add("alerts[%d].format: unknown format %q", i, a.Format)
		}
	}

	errs = append(errs, boundary.Validate(c.Boundaries, c.DefaultBoundaries)...)
	return errors.Join(errs...)
}

// Pipeline returns the dispatcher configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Timeout:      c.Limits.RequestTimeout,
		AuditTimeout: c.Limits.AuditTimeout,
		Detect:       c.Detect,
		Hook:         c.Hook,
		Wellbeing:    c.Wellbeing,
	}
}

// BoundaryFile returns the boundary section as a standalone document.
func (c *Config) BoundaryFile() *boundary.File {
	return &boundary.File{Boundaries: c.Boundaries, DefaultBoundaries: c.DefaultBoundaries}
}
