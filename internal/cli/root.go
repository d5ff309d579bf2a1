// Package cli implements the safetygate command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/config"
	"github.com/ppiankov/safetygate/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "safetygate",
	Short: "Fail-closed safety gate for model requests",
	Long: "Runs every request through session tracking, pre-check detectors, boundary\n" +
		"enforcement, the model, hook detection and wellbeing scoring, and records\n" +
		"each decision in a hash-chained audit log. Anything that fails blocks.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(logLevel, logFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.safetygate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole, "Log format (json|console)")
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

var errBlocked = &exitError{code: 2, msg: "request blocked"}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// loadConfig loads the configuration file. Unless log flags were given,
// the logger is rebuilt from the file's log section.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, hash, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if !flags.Changed("log-level") && !flags.Changed("log-format") {
		l, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
	}
	logger.Debug("config.loaded", zap.String("path", configPath), zap.String("hash", hash))
	return cfg, nil
}
