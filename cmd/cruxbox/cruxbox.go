package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/cruciblehq/cruxbox/internal"
	"github.com/cruciblehq/cruxbox/internal/cli"
)

// The entry point for cruxbox.
//
// Initializes logging, displays startup information, and executes the root
// command. The process exits with the status reported by the command, or
// with 1 if the command fails.
func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("cruxbox is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	code, err := cli.Execute()
	if err != nil {
		slog.Error(err.Error())
		if internal.IsDebug() {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		}
		os.Exit(1)
	}

	os.Exit(code)
}

// Creates a stderr logger seeded from build-time linker flags.
//
// The logger is reconfigured after flag parsing via cli.Execute.
func logger() *slog.Logger {
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:       internal.Name,
		Level:        logLevel(),
		ReportCaller: internal.IsVerbose(),
	})
	return slog.New(handler)
}

// Returns the log level derived from build-time linker flags.
func logLevel() log.Level {
	if internal.IsDebug() {
		return log.DebugLevel
	}
	if internal.IsQuiet() {
		return log.WarnLevel
	}
	return log.InfoLevel
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
