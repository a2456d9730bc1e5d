package cmd

import (
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sysfuzz/config"
	"sysfuzz/engine"
	"sysfuzz/logging"
)

// watchdogCmd is the internal re-exec target for the watchdog process.
// Like a child it receives the control block memfd at fd 3 and the run
// configuration via SYSFUZZ_CONFIG; unlike a child it owns no slot.
var watchdogCmd = &cobra.Command{
	Use:    "watchdog",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWatchdog,
}

func init() {
	rootCmd.AddCommand(watchdogCmd)
}

func runWatchdog(cmd *cobra.Command, args []string) error {
	cfg, err := config.Decode(os.Getenv(config.EnvVar))
	if err != nil {
		return err
	}
	logging.SetDefault(logging.WithRole(logging.Default(), "watchdog"))

	shared, err := engine.OpenSharedBlock(os.NewFile(3, "controlblock"))
	if err != nil {
		return err
	}
	defer shared.Close()
	cb := shared.CB

	engine.MaskSignals()
	engine.InstallIgnored()

	wd := engine.NewWatchdog(cb, time.Duration(cfg.MaxRuntime)*time.Second, cfg.MaxExecs)
	wd.Run()

	// Run only returns once the exit reason left RUNNING; wake the
	// supervisor's select loop so the drain starts this tick rather than
	// on the next poll interval.
	if pid := cb.MainPIDOf(); pid > 0 {
		syscall.Kill(pid, syscall.SIGINT)
	}
	return nil
}
