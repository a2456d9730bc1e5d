package cmd

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sysfuzz/config"
	"sysfuzz/engine"
	cerrors "sysfuzz/errors"
	"sysfuzz/fdpool"
	"sysfuzz/logging"
	"sysfuzz/trinitylog"
)

var runCfg = config.Default()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a fuzzing run",
	Long: `Start a fuzzing run: spawn the configured number of worker processes
plus a watchdog, and keep fuzzing until interrupted, a resource cap is
reached, or the kernel taints itself.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&runCfg.Children, "children", runCfg.Children, "number of worker processes to maintain")
	f.StringSliceVar(&runCfg.Syscalls, "syscalls", nil, "comma-separated syscall names to enable (default: all)")
	f.StringSliceVar(&runCfg.Exclude, "exclude", nil, "syscall names to disable, applied after --syscalls/--group")
	f.StringVar(&runCfg.Group, "group", "", "enable one syscall group (vfs, net, mm, ipc, sched)")
	f.StringVar(&runCfg.Proto, "proto", "", "restrict socket syscalls to one protocol family (inet, inet6, unix, netlink, packet)")
	f.Int64Var(&runCfg.Seed, "seed", 0, "PRNG seed (0 derives one from OS entropy and logs it)")
	f.BoolVar(&runCfg.Dangerous, "dangerous", false, "allow running as root and enable destructive syscalls")
	f.BoolVar(&runCfg.Quiet, "quiet", false, "suppress per-syscall output")
	f.BoolVar(&runCfg.Monochrome, "monochrome", !term.IsTerminal(int(os.Stdout.Fd())), "disable ANSI colour in log output")
	f.BoolVar(&runCfg.Arch32, "32", runCfg.Arch32, "include the 32-bit syscall table view")
	f.BoolVar(&runCfg.Arch64, "64", runCfg.Arch64, "include the 64-bit syscall table view")
	f.Int64Var(&runCfg.MaxRuntime, "max-runtime", 0, "cap total wall-clock runtime in seconds (0: unbounded)")
	f.Int64Var(&runCfg.MaxExecs, "max-execs", 0, "cap total syscall invocations across all children (0: unbounded)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	runCfg.Debug = globalDebug
	runCfg.LogDir = globalLogDir
	runCfg.LogFormat = globalLogFormat

	if err := runCfg.Validate(); err != nil {
		return err
	}
	if runCfg.Children > engine.MaxChildren {
		return cerrors.New(cerrors.ErrInvalidConfig, "validate",
			fmt.Sprintf("children capped at %d", engine.MaxChildren))
	}

	if os.Geteuid() == 0 {
		if !runCfg.Dangerous {
			return cerrors.ErrRunningAsRoot
		}
		dangerousCountdown()
	}

	if runCfg.Seed == 0 {
		seed, err := entropySeed()
		if err != nil {
			return cerrors.Wrap(err, cerrors.ErrInit, "derive_seed")
		}
		runCfg.Seed = seed
	}

	runID := uuid.New()
	logger := logging.WithSeed(logging.WithRunID(logging.WithRole(logging.Default(), "supervisor"), runID), runCfg.Seed)
	logger.Info("starting run", "children", runCfg.Children)

	// The working directory moves into the log dir so both the scratch
	// files the fuzzer creates and the logs land in one disposable place.
	// A failure here is tolerated: the run just litters the launch dir.
	if err := os.MkdirAll(runCfg.LogDir, 0755); err != nil {
		logger.Warn("could not create work dir", "dir", runCfg.LogDir, "error", err)
	}
	if err := os.Chdir(runCfg.LogDir); err != nil {
		logger.Warn("could not enter work dir", "dir", runCfg.LogDir, "error", err)
	}

	table, err := buildTable(runCfg)
	if err != nil {
		return err
	}
	if runCfg.Proto != "" {
		logger.Info("protocol family pinned", "proto", runCfg.Proto,
			"socket_syscalls", len(table.FindByProto(runCfg.Proto)))
	}

	shared, err := engine.CreateSharedBlock("sysfuzz-" + runID.String())
	if err != nil {
		return err
	}
	defer shared.Close()

	cb := shared.CB
	cb.Init(runCfg.Seed, int32(runCfg.Children), int32(os.Getppid()))
	cb.SetMainPID(int32(os.Getpid()))
	cb.SetInitPID(int32(os.Getppid()))

	tlog := trinitylog.New(".", runCfg.Children, runCfg.Monochrome, quietLevel())
	if err := tlog.Open(); err != nil {
		return cerrors.Wrap(err, cerrors.ErrInit, "open_logfiles")
	}
	defer tlog.Close()

	// Fail-fast fd provider check: every pool must open, or the run is
	// not worth starting.
	registry := fdpool.NewRegistry(runCfg.Children, fdpool.DefaultProviders(".")...)
	if err := registry.Open(); err != nil {
		return err
	}
	defer registry.Close()

	if startupTainted() {
		logger.Warn("kernel is already tainted at startup; taint-based stop detection still armed")
	}

	cfgEnv, err := runCfg.Encode()
	if err != nil {
		return err
	}

	engine.MaskSignals()
	engine.InstallIgnored()
	plane := engine.NewSignalPlane()

	sup := engine.NewSupervisor(shared, "/proc/self/exe", runCfg.Children, runCfg.Seed)
	sup.ChildEnv = []string{config.EnvVar + "=" + cfgEnv}

	if _, err := sup.SpawnWatchdog(); err != nil {
		return err
	}

	loc := engine.Locator{CB: cb}
	tlog.Output(0, os.Getpid(), loc, cb, os.Stdout, "seed %d, %d children, %d syscalls active\n",
		runCfg.Seed, runCfg.Children, table.ActiveCount())

	// Periodic flush of dirtied child logs.
	syncDone := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-syncDone:
				return
			case <-t.C:
				tlog.Sync(cb)
			}
		}
	}()

	runErr := sup.Run(context.Background(), plane)
	close(syncDone)
	tlog.Sync(cb)
	if runErr != nil {
		return runErr
	}

	reason := cb.GetExitReason()
	execs := cb.ExecCount
	logger.Info("run finished",
		"reason", reason.String(),
		"execs", execs,
		"successes", cb.Successes,
		"failures", cb.Failures)
	tlog.Output(0, os.Getpid(), loc, cb, os.Stdout, "run finished: %s after %d execs (%d ok, %d failed)\n",
		reason.String(), execs, cb.Successes, cb.Failures)

	if reason == engine.ExitSIGINT && execs > 1 {
		return cerrors.ErrOperatorInterrupt
	}
	return nil
}

// quietLevel maps the quiet/debug flags onto trinitylog's stdout gate:
// 0 prints nothing, 1 the normal per-run lines, 2 adds debug detail.
func quietLevel() uint8 {
	switch {
	case runCfg.Quiet:
		return 0
	case runCfg.Debug:
		return 2
	default:
		return 1
	}
}

// dangerousCountdown gives a root operator ten seconds to reconsider
// before the fuzzer starts throwing syscalls with full privilege.
func dangerousCountdown() {
	fmt.Println("--dangerous and uid 0: this run may destroy this machine.")
	for i := 10; i > 0; i-- {
		fmt.Printf("%d... ", i)
		time.Sleep(time.Second)
	}
	fmt.Println()
}

// entropySeed draws a reproducible-seed value from the OS entropy
// source when no --seed was given.
func entropySeed() (int64, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, err
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) &^ (1 << 63))
	if seed == 0 {
		seed = 1
	}
	return seed, nil
}

// startupTainted reports whether the kernel was tainted before the run
// even started, so the operator knows runtime taint detection cannot
// distinguish pre-existing damage from fresh findings.
func startupTainted() bool {
	data, err := os.ReadFile(engine.TaintPath)
	if err != nil {
		return false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	return err == nil && v != 0
}
