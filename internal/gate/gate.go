// Package gate assembles a running pipeline from configuration.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/alert"
	"github.com/ppiankov/safetygate/internal/audit"
	"github.com/ppiankov/safetygate/internal/boundary"
	"github.com/ppiankov/safetygate/internal/config"
	"github.com/ppiankov/safetygate/internal/identity"
	"github.com/ppiankov/safetygate/internal/llm"
	"github.com/ppiankov/safetygate/internal/pipeline"
	"github.com/ppiankov/safetygate/internal/session"
	"github.com/ppiankov/safetygate/internal/temporal"
)

// Option overrides a collaborator that would otherwise come from config.
type Option func(*options)

type options struct {
	model llm.Invoker
	clock temporal.Clock
	sink  audit.Sink
}

// WithModel replaces the configured model provider.
func WithModel(m llm.Invoker) Option {
	return func(o *options) { o.model = m }
}

// WithClock replaces the system clock.
func WithClock(c temporal.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSink replaces the configured audit backend. The gate still closes it.
func WithSink(s audit.Sink) Option {
	return func(o *options) { o.sink = s }
}

// Gate holds everything a running pipeline owns.
type Gate struct {
	Config     *config.Config
	Clock      temporal.Clock
	Sessions   *session.Store
	Sink       audit.Sink
	Alerts     *alert.Dispatcher
	Dispatcher *pipeline.Dispatcher
	// Verifier is nil when no JWT secret is configured.
	Verifier *identity.Verifier
}

// Build wires a dispatcher from cfg. Callers must Close the result.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (*Gate, error) {
	if log == nil {
		log = zap.NewNop()
	}
	o := options{clock: temporal.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	table, err := boundary.FromFile(cfg.BoundaryFile(), boundary.Options{})
	if err != nil {
		return nil, fmt.Errorf("compile boundaries: %w", err)
	}

	invoker := o.model
	if invoker == nil {
		invoker, err = llm.New(ctx, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("create model invoker: %w", err)
		}
	}

	var verifier *identity.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier, err = identity.NewVerifier(identity.Config{
			Secret:   cfg.Auth.JWTSecret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			Leeway:   cfg.Auth.Leeway,
		})
		if err != nil {
			return nil, fmt.Errorf("create token verifier: %w", err)
		}
	}

	sink := o.sink
	if sink == nil {
		sink, err = audit.New(ctx, cfg.Audit, log.Named("audit"))
		if err != nil {
			return nil, fmt.Errorf("open audit sink: %w", err)
		}
	}

	sessions := session.NewStore(cfg.Sessions, log.Named("session"))
	alerts := alert.NewDispatcher(cfg.Alerts, log.Named("alert"))

	d, err := pipeline.New(cfg.Pipeline(), pipeline.Deps{
		Clock:      o.clock,
		Sessions:   sessions,
		Boundaries: boundary.NewEnforcer(table, log.Named("boundary")),
		Model:      invoker,
		Audit:      sink,
		Notifier:   alerts,
		Logger:     log.Named("pipeline"),
	})
	if err != nil {
		sessions.Close()
		_ = sink.Close()
		return nil, err
	}

	return &Gate{
		Config:     cfg,
		Clock:      o.clock,
		Sessions:   sessions,
		Sink:       sink,
		Alerts:     alerts,
		Dispatcher: d,
		Verifier:   verifier,
	}, nil
}

// Sweeper returns a sweeper for idle sessions using the configured interval.
func (g *Gate) Sweeper(log *zap.Logger) *session.Sweeper {
	return session.NewSweeper(g.Sessions, g.Clock, g.Config.Sessions.SweepInterval, log)
}

// Close waits for in-flight alerts and releases the audit sink.
func (g *Gate) Close() error {
	g.Sessions.Close()
	g.Alerts.Wait()
	return g.Sink.Close()
}
