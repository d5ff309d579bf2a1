package mcp

import (
	"context"
	"errors"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/model"
)

// EvaluateInput defines parameters for the safetygate_evaluate tool.
type EvaluateInput struct {
	CallerID    string   `json:"caller_id" jsonschema:"identifier of the end user"`
	Session     string   `json:"session,omitempty" jsonschema:"session identifier hint"`
	Content     string   `json:"content" jsonschema:"user content to evaluate"`
	ContentType string   `json:"content_type,omitempty" jsonschema:"text/plain (default) or application/json"`
	Boundaries  []string `json:"boundaries,omitempty" jsonschema:"boundary ids guarding the requested capability"`
	AgeBracket  string   `json:"age_bracket,omitempty" jsonschema:"verified age bracket: child, teen or adult"`
}

// EvaluateOutput is the caller-visible decision.
type EvaluateOutput struct {
	Outcome   string   `json:"outcome"`
	Reason    string   `json:"reason,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	AuditID   string   `json:"audit_id,omitempty"`
	Safeguard bool     `json:"developmental_safeguard"`
	Response  string   `json:"response,omitempty"`
}

// BoundariesInput takes no parameters.
type BoundariesInput struct{}

// BoundaryInfo describes one boundary.
type BoundaryInfo struct {
	ID         string `json:"id"`
	Capability string `json:"capability"`
	Default    bool   `json:"default"`
}

// BoundariesOutput lists boundaries.
type BoundariesOutput struct {
	Boundaries []BoundaryInfo `json:"boundaries"`
}

var errMissingCaller = errors.New("caller_id is required")

func (s *Server) handleEvaluate(ctx context.Context, _ *mcpsdk.CallToolRequest, input EvaluateInput) (*mcpsdk.CallToolResult, EvaluateOutput, error) {
	if strings.TrimSpace(input.CallerID) == "" {
		return nil, EvaluateOutput{}, errMissingCaller
	}
	contentType := input.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	dec := s.eval.Dispatch(ctx, model.Request{
		Caller: model.Caller{
			ID:       input.CallerID,
			Roles:    s.cfg.Roles,
			Verified: s.cfg.TrustCallers,
			Age:      model.ParseAgeBracket(input.AgeBracket),
		},
		SessionHint:   input.Session,
		Body:          strings.NewReader(input.Content),
		ContentLength: int64(len(input.Content)),
		ContentType:   contentType,
		Boundaries:    input.Boundaries,
	})

	pub := dec.Public()
	out := EvaluateOutput{
		Outcome:   string(pub.Outcome),
		Reason:    pub.Reason,
		Labels:    pub.Labels,
		AuditID:   pub.AuditID,
		Safeguard: pub.SafeguardActive,
		Response:  pub.Response,
	}
	if dec.Outcome == model.Block {
		s.log.Debug("mcp.blocked", zap.String("decision_id", dec.ID), zap.String("reason", dec.Reason))
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleBoundaries(_ context.Context, _ *mcpsdk.CallToolRequest, _ BoundariesInput) (*mcpsdk.CallToolResult, BoundariesOutput, error) {
	table := s.eval.Boundaries()
	defaults := make(map[string]bool)
	for _, id := range table.Defaults() {
		defaults[id] = true
	}

	out := BoundariesOutput{Boundaries: []BoundaryInfo{}}
	for _, id := range table.IDs() {
		b, _ := table.Lookup(id)
		out.Boundaries = append(out.Boundaries, BoundaryInfo{
			ID:         id,
			Capability: b.Capability,
			Default:    defaults[id],
		})
	}
	return nil, out, nil
}
