package gate

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/safetygate/internal/audit"
	"github.com/ppiankov/safetygate/internal/config"
	"github.com/ppiankov/safetygate/internal/llm"
	"github.com/ppiankov/safetygate/internal/model"
	"github.com/ppiankov/safetygate/internal/temporal"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.jsonl")
	return cfg
}

func TestBuildFromDefaults(t *testing.T) {
	cfg := testConfig(t)
	g, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer g.Close()

	require.Nil(t, g.Verifier)
	require.Equal(t, []string{"verified_caller"}, g.Dispatcher.Boundaries().Defaults())

	dec := g.Dispatcher.Dispatch(context.Background(), model.Request{
		Caller:      model.Caller{ID: "u1", Verified: true, Age: model.AgeAdult},
		Body:        strings.NewReader("ping"),
		ContentType: "text/plain",
	})
	require.Equal(t, model.Allow, dec.Outcome)
	require.Equal(t, "ping", dec.Response)

	require.NoError(t, g.Close())
	res := audit.Verify(cfg.Audit.Path)
	require.True(t, res.Valid)
	require.Equal(t, 1, res.Lines)
}

func TestBuildWithOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	clock := temporal.NewStepClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), time.Second)

	g, err := Build(context.Background(), cfg, nil,
		WithModel(llm.Static{Response: "fixed"}),
		WithClock(clock))
	require.NoError(t, err)
	defer g.Close()
	require.NotNil(t, g.Verifier)

	dec := g.Dispatcher.Dispatch(context.Background(), model.Request{
		Caller: model.Caller{ID: "u1", Verified: true, Age: model.AgeAdult},
		Body:   strings.NewReader("ping"),
	})
	require.Equal(t, "fixed", dec.Response)
	require.Equal(t, 1, clock.Calls())
	require.NotNil(t, g.Sweeper(nil))
}

func TestBuildRejectsBadModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.Provider = "carrier-pigeon"
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}
