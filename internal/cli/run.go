package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/cruciblehq/cruxbox/internal"
	"github.com/cruciblehq/cruxbox/internal/isolation"
	"github.com/cruciblehq/cruxbox/internal/pipeline"
	"github.com/cruciblehq/cruxbox/internal/registry"
	"github.com/cruciblehq/cruxbox/internal/runtime"
	"github.com/cruciblehq/cruxbox/internal/sandbox"
)

// Represents the 'cruxbox run' command.
type RunCmd struct {
	Root                string   `default:"${sandbox_root}" help:"Directory the image is unpacked into." placeholder:"DIR"`
	AuthURL             string   `name:"auth-url" env:"CRUXBOX_AUTH_URL" default:"${auth_url}" help:"Token endpoint of the registry." placeholder:"URL"`
	AuthService         string   `name:"auth-service" env:"CRUXBOX_AUTH_SERVICE" default:"${auth_service}" help:"Service name sent to the token endpoint." placeholder:"NAME"`
	RegistryURL         string   `name:"registry-url" env:"CRUXBOX_REGISTRY_URL" default:"${registry_url}" help:"Base URL of the registry API." placeholder:"URL"`
	Concurrency         int      `default:"1" help:"Maximum number of layers downloaded at once." placeholder:"N"`
	Env                 []string `short:"e" sep:"none" help:"Set an environment variable for the command." placeholder:"KEY=VALUE"`
	BestEffortIsolation bool     `name:"best-effort-isolation" help:"Run without namespaces when the kernel refuses them."`
	Image               string   `arg:"" help:"Image reference, name[:tag]." placeholder:"IMAGE"`
	Command             []string `arg:"" passthrough:"" help:"Absolute path of the command, followed by its arguments." placeholder:"COMMAND"`
}

// Executes the run command.
//
// Pulls the image into the sandbox root, confines the process to it and runs
// the command. The command's exit code is reported through status.
func (c *RunCmd) Run(ctx context.Context, status *exitStatus) error {
	ns := isolation.DefaultNamespaces()
	if c.BestEffortIsolation || internal.IsBestEffort() {
		ns.Mode = isolation.BestEffort
	}

	stages := pipeline.NewStages(
		registry.New(registry.Config{
			AuthURL:     c.AuthURL,
			Service:     c.AuthService,
			RegistryURL: c.RegistryURL,
			UserAgent:   userAgent(),
		}),
		sandbox.NewBuilder(c.Root),
		&runtime.Runner{
			Stdout:     os.Stdout,
			Stderr:     os.Stderr,
			Env:        c.Env,
			Namespaces: ns,
		},
	)

	result, err := pipeline.Run(ctx, stages, pipeline.Options{
		Image:       c.Image,
		Command:     c.Command[0],
		Args:        c.Command[1:],
		Concurrency: c.Concurrency,
	})
	if err != nil {
		return err
	}

	slog.Debug("command finished",
		"image", result.Reference.String(),
		"layers", result.Layers,
		"isolated", result.Isolated,
		"exit", result.ExitCode,
	)

	*status = exitStatus(result.ExitCode)
	return nil
}

// Returns the User-Agent sent to the registry, carrying the version on
// pipeline builds.
func userAgent() string {
	if internal.IsLocal() {
		return internal.Name
	}
	return internal.Name + "/" + internal.Version()
}
