package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"sysfuzz/config"
	"sysfuzz/engine"
	cerrors "sysfuzz/errors"
	"sysfuzz/fdpool"
	"sysfuzz/logging"
	"sysfuzz/utils"
)

// childCmd is the internal re-exec target for one worker process. The
// supervisor passes the shared control block memfd at fd 3, the start
// pipe at fd 4, the slot index via SYSFUZZ_CHILD_INDEX, and the run's
// configuration via SYSFUZZ_CONFIG.
var childCmd = &cobra.Command{
	Use:    "child",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runChild,
}

func init() {
	rootCmd.AddCommand(childCmd)
}

func runChild(cmd *cobra.Command, args []string) error {
	idx, err := strconv.Atoi(os.Getenv(engine.EnvChildIndex))
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrInit, "child_index")
	}

	cfg, err := config.Decode(os.Getenv(config.EnvVar))
	if err != nil {
		return err
	}
	logging.SetDefault(logging.WithChild(logging.WithRole(logging.Default(), "child"), idx))

	shared, err := engine.OpenSharedBlock(os.NewFile(3, "controlblock"))
	if err != nil {
		return err
	}
	defer shared.Close()
	cb := shared.CB

	engine.MaskSignals()
	engine.InstallIgnored()
	plane := engine.NewSignalPlane()
	go func() {
		for {
			select {
			case <-plane.SIGINT:
				engine.ApplySIGINT(cb)
			case <-plane.Other:
				// A worker is disposable: any signal it was never meant to
				// receive ends it cleanly and the supervisor respawns.
				os.Exit(0)
			}
		}
	}()

	// Block until the supervisor has recorded this pid in the slot; a
	// supervisor that died before releasing us means exit, not fuzz.
	start := utils.WorkerEnd(os.NewFile(4, "startpipe"))
	if err := start.AwaitStart(); err != nil {
		return nil
	}

	registry := fdpool.NewRegistry(cfg.Children, fdpool.DefaultProviders(".")...)
	if err := registry.Open(); err != nil {
		return err
	}
	defer registry.Close()

	table, err := buildTable(cfg)
	if err != nil {
		return err
	}

	w := engine.NewWorker(idx, cb, table, registry, cfg.Proto, cfg.Seed, 0)
	w.Run()
	return nil
}
