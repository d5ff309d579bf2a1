// Package mcp exposes the pipeline as MCP tools over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/boundary"
	"github.com/ppiankov/safetygate/internal/model"
)

// Evaluator produces a decision and exposes its boundary table.
type Evaluator interface {
	Dispatch(ctx context.Context, req model.Request) model.Decision
	Boundaries() *boundary.Table
}

// Config holds MCP server configuration.
type Config struct {
	// Version is reported in the implementation info.
	Version string
	// TrustCallers marks tool callers as verified. The stdio peer is the
	// local host process that already authenticated its user.
	TrustCallers bool
	// Roles are granted to every tool caller.
	Roles []string
}

// Server wraps the MCP SDK server.
type Server struct {
	mcpServer *mcpsdk.Server
	eval      Evaluator
	cfg       Config
	log       *zap.Logger
}

// New creates an MCP server with the safetygate tools registered.
func New(eval Evaluator, cfg Config, log *zap.Logger) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{eval: eval, cfg: cfg, log: log}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "safetygate",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on stdio. Blocks until ctx is cancelled or the peer hangs up.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safetygate_evaluate",
		Description: "Run content through the safety pipeline. Blocked content returns an error result with the reason category.",
	}, s.handleEvaluate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safetygate_boundaries",
		Description: "List configured boundaries and which apply by default.",
	}, s.handleBoundaries)
}
