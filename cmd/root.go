// Package cmd implements the CLI commands for sysfuzz.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"sysfuzz/logging"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags
var (
	globalLogDir    string
	globalLogFormat string
	globalDebug     bool
)

// rootCmd is the base command for sysfuzz.
var rootCmd = &cobra.Command{
	Use:   "sysfuzz",
	Short: "kernel system-call fuzzer",
	Long: `sysfuzz repeatedly invokes kernel syscalls with synthesized arguments,
trying to expose kernel defects without crashing itself.

Run it only on a disposable machine or VM: a successful run may panic,
hang, or taint the kernel it is fuzzing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalLogDir, "log-dir", "./tmp", "directory for trinity.log and per-child logs (also the working directory)")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for diagnostic log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if globalDebug {
		logLevel = slog.LevelDebug
	}

	logger := logging.NewLogger(logging.Config{
		Level:  logLevel,
		Format: globalLogFormat,
		Output: os.Stderr,
	})
	logging.SetDefault(logger)
}
