package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/safetygate/internal/gate"
	gatemcp "github.com/ppiankov/safetygate/internal/mcp"
)

var (
	mcpTrust bool
	mcpRoles []string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().BoolVar(&mcpTrust, "trust-callers", true, "Treat tool callers as verified")
	mcpCmd.Flags().StringSliceVar(&mcpRoles, "roles", nil, "Roles granted to tool callers")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs safetygate as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes safetygate_evaluate and safetygate_boundaries.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := gate.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := gatemcp.New(rt.Dispatcher, gatemcp.Config{
		Version:      version,
		TrustCallers: mcpTrust,
		Roles:        mcpRoles,
	}, logger.Named("mcp"))

	fmt.Fprintln(os.Stderr, "safetygate MCP server running on stdio")
	return srv.Run(ctx)
}
