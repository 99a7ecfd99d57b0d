package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (

	// Name of the binary, used as the log prefix and in usage output.
	Name = "cruxbox"

	// String to indicate an undefined variable
	defaultUndefined = "(undefined)"

	// String to indicate a local (non-pipeline) build
	defaultLocalBuild = "(local)"

	// Main branch name used in version strings
	mainBranch = "main"
)

var (
	version   = "" // Version number (e.g., "1.2.3")
	stage     = "" // Development stage or git branch (e.g., "staging", "main")
	gitCommit = "" // Git commit hash (e.g., "a1b2c3d4")

	rawQuiet      = "false" // Whether to enable quiet mode
	rawDebug      = "false" // Whether to enable debug mode
	rawVerbose    = "false" // Whether to enable verbose logging
	rawBestEffort = "false" // Whether namespace isolation failures are tolerated by default
)

// Returns the current version with any "v" prefix removed, or "(undefined)".
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return defaultUndefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the development stage, or "(undefined)" when unset.
func Stage() string {
	s := strings.TrimSpace(stage)
	if s == "" {
		return defaultUndefined
	}
	return strings.ToLower(s)
}

// Returns the git commit hash, or "(undefined)" when unset.
func GitCommit() string {
	c := strings.TrimSpace(gitCommit)
	if c == "" {
		return defaultUndefined
	}
	return c
}

// Whether any of the pipeline-provided linker variables is missing.
func IsLocal() bool {
	return strings.TrimSpace(version) == "" ||
		strings.TrimSpace(gitCommit) == "" ||
		strings.TrimSpace(stage) == ""
}

// Returns a detailed version string.
//
// Local builds report "(local)". Pipeline builds are formatted as
// "<version>+<stage> <git-commit> [<os>/<arch>]", with the stage omitted on
// the main branch.
func VersionString() string {
	if IsLocal() {
		return defaultLocalBuild
	}

	s := ""
	if Stage() != mainBranch {
		s = "+" + Stage()
	}

	return fmt.Sprintf("%s%s %s [%s/%s]", Version(), s, GitCommit(), runtime.GOOS, runtime.GOARCH)
}
