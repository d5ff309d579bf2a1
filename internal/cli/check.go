package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/safetygate/internal/gate"
	"github.com/ppiankov/safetygate/internal/model"
)

var (
	checkCaller      string
	checkSession     string
	checkBoundaries  []string
	checkRoles       []string
	checkAge         string
	checkContentType string
	checkUnverified  bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkCaller, "caller", "local", "Caller identifier")
	checkCmd.Flags().StringVar(&checkSession, "session", "", "Session identifier hint")
	checkCmd.Flags().StringArrayVarP(&checkBoundaries, "boundary", "b", nil, "Boundary guarding the request (repeatable)")
	checkCmd.Flags().StringSliceVar(&checkRoles, "roles", nil, "Caller roles")
	checkCmd.Flags().StringVar(&checkAge, "age", "", "Caller age bracket (child|teen|adult); empty is unknown")
	checkCmd.Flags().StringVar(&checkContentType, "content-type", "text/plain", "Content type (text/plain|application/json)")
	checkCmd.Flags().BoolVar(&checkUnverified, "unverified", false, "Treat the caller as unverified")
}

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Run one request through the pipeline locally",
	Long: "Reads content from a file (or stdin when omitted or \"-\"), runs it through\n" +
		"the configured pipeline and prints the caller-visible decision as JSON.\n\n" +
		"Exit code 0 for allow or warn, 2 for block.",
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var body []byte
	if len(args) == 0 || args[0] == "-" {
		body, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), cfg.Detect.MaxBodyBytes+1))
	} else {
		body, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	rt, err := gate.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	dec := rt.Dispatcher.Dispatch(cmd.Context(), model.Request{
		Caller: model.Caller{
			ID:       checkCaller,
			Roles:    checkRoles,
			Verified: !checkUnverified,
			Age:      model.ParseAgeBracket(checkAge),
		},
		SessionHint:   checkSession,
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		ContentType:   checkContentType,
		Boundaries:    checkBoundaries,
	})

	out, err := json.MarshalIndent(dec.Public(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if dec.Outcome == model.Block {
		return errBlocked
	}
	return nil
}
