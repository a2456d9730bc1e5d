package cmd

import (
	"sysfuzz/config"
	"sysfuzz/syzcall"
)

// buildTable constructs and activates the syscall table for one Config,
// shared by run, list, and the re-exec'd child so every process in a run
// resolves the same active set. Activation order matters: an explicit
// --syscalls list or --group selection seeds the set, --exclude then
// always wins, arch and dangerous filters are applied last.
func buildTable(cfg *config.Config) (*syzcall.Table, error) {
	t := syzcall.NewAMD64Table()
	if err := t.Validate(); err != nil {
		return nil, err
	}

	switch {
	case len(cfg.Syscalls) > 0:
		if err := t.ActivateNames(cfg.Syscalls); err != nil {
			return nil, err
		}
	case cfg.Group != "":
		t.ActivateGroup(cfg.Group)
	default:
		t.MarkAllActive()
	}

	t.Exclude(cfg.Exclude)
	t.ExcludeArch(cfg.Arch32, cfg.Arch64)
	if !cfg.Dangerous {
		t.ExcludeDangerous()
	}

	if err := t.RequireActive(); err != nil {
		return nil, err
	}
	return t, nil
}
