// sysfuzz is a kernel system-call fuzzer: a multi-process supervisor
// that repeatedly invokes syscalls with synthesized arguments, trying to
// expose kernel defects (oopses, hangs, taints) without crashing itself.
//
// Run it only on a disposable machine or VM.
//
// Commands:
//
//	run      - Start a fuzzing run
//	list     - List the syscall table and its activation state
//	version  - Print version information
//	child    - Internal re-exec target for a worker process
//	watchdog - Internal re-exec target for the watchdog process
package main

import (
	"fmt"
	"os"

	"sysfuzz/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sysfuzz: %v\n", err)
		os.Exit(1)
	}
}
