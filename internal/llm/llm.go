// Package llm invokes the model that produces a response for an approved
// request. The pipeline only sees the Invoker interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Providers.
const (
	ProviderStatic  = "static"
	ProviderEcho    = "echo"
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("model returned no text")

// Request is an approved request handed to the model.
type Request struct {
	CallerID  string
	SessionID string
	Prompt    string
}

// Invoker produces a model response.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (string, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Static always returns the same response.
type Static struct {
	Response string
}

// Invoke implements Invoker.
func (s Static) Invoke(ctx context.Context, _ Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Response, nil
}

// Echo returns the prompt. Useful for local runs.
type Echo struct{}

// Invoke implements Invoker.
func (Echo) Invoke(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return req.Prompt, nil
}

// Config selects and configures a provider.
type Config struct {
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	Region          string        `yaml:"region"`
	APIKey          string        `yaml:"api_key"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	StaticResponse  string        `yaml:"static_response"`
	Timeout         time.Duration `yaml:"timeout"`
}

// New builds the configured invoker. Remote providers are wrapped so each
// call is bounded by Timeout.
func New(ctx context.Context, cfg Config) (Invoker, error) {
	var (
		inv Invoker
		err error
	)
	switch cfg.Provider {
	case "", ProviderEcho:
		return Echo{}, nil
	case ProviderStatic:
		return Static{Response: cfg.StaticResponse}, nil
	case ProviderBedrock:
		inv, err = NewBedrock(ctx, cfg)
	case ProviderGemini:
		inv, err = NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		inv = withTimeout(inv, cfg.Timeout)
	}
	return inv, nil
}

func withTimeout(next Invoker, d time.Duration) Invoker {
	return InvokerFunc(func(ctx context.Context, req Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next.Invoke(ctx, req)
	})
}
