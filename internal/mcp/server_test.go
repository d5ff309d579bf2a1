package mcp

import (
	"context"
	"io"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/safetygate/internal/boundary"
	"github.com/ppiankov/safetygate/internal/model"
)

type fakeEvaluator struct {
	table *boundary.Table
	got   model.Request
	body  string
	dec   model.Decision
}

func (f *fakeEvaluator) Dispatch(_ context.Context, req model.Request) model.Decision {
	f.got = req
	b, _ := io.ReadAll(req.Body)
	f.body = string(b)
	return f.dec
}

func (f *fakeEvaluator) Boundaries() *boundary.Table { return f.table }

func newTestServer(t *testing.T, dec model.Decision) (*Server, *fakeEvaluator) {
	t.Helper()
	table, err := boundary.NewTable([]boundary.Definition{
		{ID: "chat", Capability: "model.chat", Predicate: boundary.PredicateSpec{RequireVerified: true}},
		{ID: "tools", Capability: "model.tools", Predicate: boundary.PredicateSpec{RolesAny: []string{"admin"}}},
	}, []string{"chat"}, boundary.Options{})
	if err != nil {
		t.Fatal(err)
	}
	eval := &fakeEvaluator{table: table, dec: dec}
	return New(eval, Config{TrustCallers: true, Roles: []string{"member"}}, nil), eval
}

func TestEvaluateAllowed(t *testing.T) {
	s, eval := newTestServer(t, model.Decision{Outcome: model.Allow, AuditID: "a-1", Response: "hi"})

	result, out, err := s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, EvaluateInput{
		CallerID:   "u1",
		Session:    "s-1",
		Content:    "hello",
		Boundaries: []string{"tools"},
		AgeBracket: "adult",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatal("expected success, got error result")
	}
	if out.Outcome != "allow" || out.Response != "hi" || out.AuditID != "a-1" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if !eval.got.Caller.Verified || eval.got.Caller.Age != model.AgeAdult || !eval.got.Caller.HasRole("member") {
		t.Errorf("unexpected caller: %+v", eval.got.Caller)
	}
	if eval.body != "hello" || eval.got.ContentType != "text/plain" || eval.got.SessionHint != "s-1" {
		t.Errorf("unexpected request: %+v body=%q", eval.got, eval.body)
	}
}

func TestEvaluateBlocked(t *testing.T) {
	s, _ := newTestServer(t, model.Decision{
		Outcome:  model.Block,
		Reason:   model.ReasonPolicyDenied,
		Response: "withheld",
		Detail:   "internal",
	})

	result, out, err := s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, EvaluateInput{
		CallerID: "u1",
		Content:  "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("expected IsError result for blocked content")
	}
	if out.Outcome != "block" || out.Reason != model.ReasonPolicyDenied {
		t.Fatalf("unexpected output: %+v", out)
	}
	if out.Response != "" {
		t.Errorf("blocked response leaked: %q", out.Response)
	}
}

func TestEvaluateRequiresCaller(t *testing.T) {
	s, _ := newTestServer(t, model.Decision{Outcome: model.Allow})
	if _, _, err := s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, EvaluateInput{Content: "x"}); err == nil {
		t.Fatal("expected error without caller_id")
	}
}

func TestBoundaries(t *testing.T) {
	s, _ := newTestServer(t, model.Decision{})
	_, out, err := s.handleBoundaries(context.Background(), &mcpsdk.CallToolRequest{}, BoundariesInput{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Boundaries) != 2 {
		t.Fatalf("expected 2 boundaries, got %+v", out.Boundaries)
	}
	if out.Boundaries[0].ID != "chat" || !out.Boundaries[0].Default {
		t.Errorf("expected chat as default, got %+v", out.Boundaries[0])
	}
	if out.Boundaries[1].ID != "tools" || out.Boundaries[1].Default {
		t.Errorf("expected tools not default, got %+v", out.Boundaries[1])
	}
}

func TestNewRegistersServer(t *testing.T) {
	s, _ := newTestServer(t, model.Decision{})
	if s.mcpServer == nil {
		t.Fatal("expected MCP server")
	}
}
