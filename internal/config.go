package internal

import (
	"strconv"
	"sync/atomic"
)

var (
	quietMode      atomic.Bool // Suppress informational output.
	debugMode      atomic.Bool // Debug-level logging and error stacks.
	verboseMode    atomic.Bool // Caller locations in log lines.
	bestEffortMode atomic.Bool // Tolerate refused namespace isolation.
)

// Seeds the runtime modes from linker flags. Unparseable values leave the
// mode disabled.
func init() {
	seed(&quietMode, rawQuiet)
	seed(&debugMode, rawDebug)
	seed(&verboseMode, rawVerbose)
	seed(&bestEffortMode, rawBestEffort)
}

func seed(mode *atomic.Bool, raw string) {
	if v, err := strconv.ParseBool(raw); err == nil {
		mode.Store(v)
	}
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) { quietMode.Store(enabled) }

// Returns true if quiet mode is enabled.
func IsQuiet() bool { return quietMode.Load() }

// Enables or disables debug mode.
func SetDebug(enabled bool) { debugMode.Store(enabled) }

// Returns true if debug mode is enabled.
func IsDebug() bool { return debugMode.Load() }

// Enables or disables verbose logging.
func SetVerbose(enabled bool) { verboseMode.Store(enabled) }

// Returns true if verbose logging is enabled.
func IsVerbose() bool { return verboseMode.Load() }

// Returns true if the build defaults to best-effort namespace isolation.
//
// Distribution builds for hosts without unprivileged PID namespaces can set
// this through ldflags; the --best-effort-isolation flag overrides it per run.
func IsBestEffort() bool { return bestEffortMode.Load() }
