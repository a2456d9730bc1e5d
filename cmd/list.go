package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sysfuzz/config"
)

var listCfg = config.Default()

// listCmd dumps the syscall table as the given selection flags would
// activate it, so an operator can audit what a --group/--syscalls
// combination actually enables before burning a machine on it.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the syscall table and its activation state",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	f := listCmd.Flags()
	f.StringSliceVar(&listCfg.Syscalls, "syscalls", nil, "comma-separated syscall names to enable (default: all)")
	f.StringSliceVar(&listCfg.Exclude, "exclude", nil, "syscall names to disable")
	f.StringVar(&listCfg.Group, "group", "", "enable one syscall group (vfs, net, mm, ipc, sched)")
	f.BoolVar(&listCfg.Dangerous, "dangerous", false, "include destructive syscalls")
	f.BoolVar(&listCfg.Arch32, "32", listCfg.Arch32, "include the 32-bit syscall table view")
	f.BoolVar(&listCfg.Arch64, "64", listCfg.Arch64, "include the 64-bit syscall table view")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if err := listCfg.Validate(); err != nil {
		return err
	}
	table, err := buildTable(listCfg)
	if err != nil {
		return err
	}
	fmt.Print(table.Dump())
	return nil
}
