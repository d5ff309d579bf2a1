package safetygate

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// ModelFunc produces the model response for content that passed the
// pre-checks.
type ModelFunc func(ctx context.Context, prompt string) (string, error)

// CallerFunc resolves the caller of an HTTP request. ok=false rejects the
// request with 401.
type CallerFunc func(r *http.Request) (caller Caller, ok bool)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath     string
	auditPath      string
	model          ModelFunc
	logger         *zap.Logger
	callerFunc     CallerFunc
	httpBoundaries []string
}

// WithConfigFile loads configuration from path. Without it the built-in
// defaults are used.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithAuditLog writes the hash-chained audit log to path.
func WithAuditLog(path string) Option {
	return func(c *clientConfig) { c.auditPath = path }
}

// WithModel sets the model called for content that passes pre-checks.
func WithModel(fn ModelFunc) Option {
	return func(c *clientConfig) { c.model = fn }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithCallerFunc sets how Middleware identifies callers.
func WithCallerFunc(fn CallerFunc) Option {
	return func(c *clientConfig) { c.callerFunc = fn }
}

// WithHTTPBoundaries sets the boundaries Middleware checks on every request.
func WithHTTPBoundaries(ids ...string) Option {
	return func(c *clientConfig) { c.httpBoundaries = ids }
}

// GuardOption configures a single Guard call.
type GuardOption func(*guardConfig)

type guardConfig struct {
	session     string
	contentType string
	boundaries  []string
}

// GuardSession sets the session identifier hint.
func GuardSession(id string) GuardOption {
	return func(g *guardConfig) { g.session = id }
}

// GuardJSON marks guarded content as application/json.
func GuardJSON() GuardOption {
	return func(g *guardConfig) { g.contentType = "application/json" }
}

// GuardBoundaries adds boundaries to check for guarded calls.
func GuardBoundaries(ids ...string) GuardOption {
	return func(g *guardConfig) { g.boundaries = append(g.boundaries, ids...) }
}
