package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/safetygate/internal/boundary"
)

func init() {
	rootCmd.AddCommand(boundariesCmd)
	boundariesCmd.AddCommand(boundariesLintCmd)
	boundariesCmd.AddCommand(boundariesListCmd)
}

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Boundary table operations",
}

var boundariesLintCmd = &cobra.Command{
	Use:   "lint <path>",
	Short: "Validate a boundary document",
	Long: "Strictly parses a boundary YAML document (boundaries + default_boundaries)\n" +
		"and reports every invalid definition. Exits 1 if any problem is found.",
	Args: cobra.ExactArgs(1),
	RunE: runBoundariesLint,
}

var boundariesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List boundaries from the active configuration",
	Args:  cobra.NoArgs,
	RunE:  runBoundariesList,
}

func runBoundariesLint(cmd *cobra.Command, args []string) error {
	f, hash, err := boundary.LoadFile(args[0])
	if err != nil {
		return err
	}

	errs := boundary.Validate(f.Boundaries, f.DefaultBoundaries)
	out := cmd.OutOrStdout()
	for _, e := range errs {
		fmt.Fprintf(out, "  - %v\n", e)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %d problem(s)", args[0], len(errs))
	}
	fmt.Fprintf(out, "OK: %d boundaries, %d default (%s)\n",
		len(f.Boundaries), len(f.DefaultBoundaries), hash)
	return nil
}

func runBoundariesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	table, err := boundary.FromFile(cfg.BoundaryFile(), boundary.Options{})
	if err != nil {
		return err
	}

	defaults := make(map[string]bool)
	for _, id := range table.Defaults() {
		defaults[id] = true
	}
	out := cmd.OutOrStdout()
	for _, id := range table.IDs() {
		b, _ := table.Lookup(id)
		mark := ""
		if defaults[id] {
			mark = "  (default)"
		}
		fmt.Fprintf(out, "%-24s %s%s\n", id, b.Capability, mark)
	}
	return nil
}
