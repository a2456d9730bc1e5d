// Package config holds the typed options a fuzzing run is configured with.
// Values are populated by cmd's cobra flags and validated once before the
// engine is started.
package config

import (
	"encoding/json"
	"runtime"
	"strings"

	cerrors "sysfuzz/errors"
)

// EnvVar names the environment variable the supervisor uses to hand the
// serialized Config to its re-exec'd child and watchdog processes, the
// same cross-exec JSON handoff the runtime uses for container specs.
const EnvVar = "SYSFUZZ_CONFIG"

// Config is the full set of options for one `sysfuzz run` invocation.
type Config struct {
	// Children is the number of worker processes to maintain.
	Children int

	// Syscalls is an explicit syscall name allowlist ("--syscalls"); group
	// names are not accepted here (see Group). Empty means every syscall in
	// Table is a candidate.
	Syscalls []string

	// Exclude removes names from the active set after Syscalls/Group is
	// applied.
	Exclude []string

	// Group restricts the active set to one named group ("vfs", "net", ...).
	Group string

	// Proto restricts socket-family syscalls to one named protocol family
	// ("inet", "inet6", "unix", ...).
	Proto string

	// Seed seeds the PRNG. Zero means derive a seed from the OS entropy
	// source and log it, so an interesting run can be reproduced.
	Seed int64

	// Dangerous allows running as root; root without it is a fatal init
	// error.
	Dangerous bool

	// Quiet raises the output level threshold, per trinitylog's Output
	// quiet-level gate.
	Quiet bool

	// Debug raises trinitylog's stdout gate so detail-level lines are also
	// printed.
	Debug bool

	// Monochrome disables ANSI colour in log output.
	Monochrome bool

	// Arch32, Arch64 select which syscall-table architecture views are
	// active; at least one must be true.
	Arch32 bool
	Arch64 bool

	// MaxRuntime caps total wall-clock run time in seconds; zero is
	// unbounded.
	MaxRuntime int64

	// MaxExecs caps total exec_count across all children; zero is
	// unbounded.
	MaxExecs int64

	// LogDir is the directory trinitylog writes trinity.log and
	// trinity-child<N>.log under. Defaults to "./tmp".
	LogDir string

	// LogFormat selects the side-channel slog format ("text" or "json").
	LogFormat string
}

// Default returns a Config with zero-value-safe
// defaults: one child, every syscall active, logs under ./tmp.
func Default() *Config {
	return &Config{
		Children:  1,
		Arch32:    runtime.GOARCH != "arm64" && runtime.GOARCH != "arm",
		Arch64:    true,
		LogDir:    "./tmp",
		LogFormat: "text",
	}
}

// Validate checks a Config for the invalid combinations the
// ErrInvalidConfig sentinels cover, returning the first violation found.
func (c *Config) Validate() error {
	if c.Children < 1 {
		return cerrors.New(cerrors.ErrInvalidConfig, "validate", "children must be at least 1")
	}
	if !c.Arch32 && !c.Arch64 {
		return cerrors.ErrBothArchFlags
	}
	if c.Group != "" && !knownGroup(c.Group) {
		return cerrors.ErrUnknownGroup
	}
	if c.Proto != "" && !knownProto(c.Proto) {
		return cerrors.ErrUnknownProto
	}
	return nil
}

// Encode serializes the Config for the EnvVar handoff.
func (c *Config) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", cerrors.Wrap(err, cerrors.ErrInternal, "encode_config")
	}
	return string(b), nil
}

// Decode reconstructs a Config inside a re-exec'd process from the
// EnvVar value. An empty value is an init failure: a child without its
// configuration must not fall back to defaults and fuzz the wrong set.
func Decode(s string) (*Config, error) {
	if s == "" {
		return nil, cerrors.New(cerrors.ErrInit, "decode_config", "missing "+EnvVar)
	}
	c := &Config{}
	if err := json.Unmarshal([]byte(s), c); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrInit, "decode_config")
	}
	return c, nil
}

var groups = map[string]bool{
	"vfs": true, "net": true, "mm": true, "ipc": true, "sched": true,
}

var protos = map[string]bool{
	"inet": true, "inet6": true, "unix": true, "netlink": true, "packet": true,
}

func knownGroup(name string) bool {
	return groups[strings.ToLower(name)]
}

func knownProto(name string) bool {
	return protos[strings.ToLower(name)]
}
