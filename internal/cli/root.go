package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/cruciblehq/cruxbox/internal"
	"github.com/cruciblehq/cruxbox/internal/paths"
	"github.com/cruciblehq/cruxbox/internal/registry"
)

// Represents the root command for cruxbox.
var RootCmd struct {
	Quiet   bool       `short:"q" help:"Suppress informational output."`
	Verbose bool       `short:"v" help:"Enable verbose output."`
	Debug   bool       `short:"d" help:"Enable debug output."`
	Run     RunCmd     `cmd:"" help:"Pull an image into a sandbox and run a command inside it."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Exit status reported by the selected command.
type exitStatus int

// Parses arguments, configures logging, and runs the selected subcommand.
//
// Returns the exit status the process should terminate with. The status is
// only meaningful when the error is nil.
func Execute() (int, error) {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var status exitStatus

	parser, err := newParser(ctx, &status)
	if err != nil {
		return 1, err
	}

	kongCtx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	configureLogger()

	if err := kongCtx.Run(); err != nil {
		return 1, err
	}
	return int(status), nil
}

// Creates the command-line parser bound to ctx and status.
func newParser(ctx context.Context, status *exitStatus) (*kong.Kong, error) {
	return kong.New(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("A minimal container runtime.\n\nPulls an image from a registry, unpacks it into a sandbox directory and runs a command confined to it."),
		kong.UsageOnError(),
		kong.Vars{
			"version":      internal.VersionString(),
			"sandbox_root": paths.DefaultSandboxRoot,
			"auth_url":     registry.DefaultAuthURL,
			"auth_service": registry.DefaultService,
			"registry_url": registry.DefaultRegistryURL,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(status),
	)
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	logger, ok := slog.Default().Handler().(*log.Logger)
	if !ok {
		return // Not a charm logger, nothing to configure
	}

	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()
	verbose := RootCmd.Verbose || internal.IsVerbose()

	internal.SetDebug(debug)
	internal.SetQuiet(quiet)
	internal.SetVerbose(verbose)

	if debug {
		logger.SetLevel(log.DebugLevel)
	} else if quiet {
		logger.SetLevel(log.WarnLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}

	logger.SetReportCaller(verbose)
}
