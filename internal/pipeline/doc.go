// Package pipeline runs an image command end to end.
//
// A run is an ordered sequence of stages: the image reference is parsed, the
// sandbox root is prepared and the command binary mirrored into it, a pull
// token is obtained, the manifest is resolved, every layer is fetched and
// unpacked into the sandbox in manifest order, the process is confined to
// the sandbox, and the command is executed. A failure in any stage aborts
// the run; the sandbox is left in whatever state it reached.
//
// Each stage is supplied through [Stages], so tests can substitute fakes for
// the registry, the filesystem and the process primitives. Layer delivery is
// sequential by default. With [Options.Concurrency] above one, blobs are
// downloaded concurrently into memory and then applied in manifest order.
//
// Example usage:
//
//	stages := pipeline.NewStages(
//	    registry.New(registry.Config{}),
//	    sandbox.NewBuilder("./sandbox"),
//	    &runtime.Runner{Stdout: os.Stdout, Stderr: os.Stderr},
//	)
//
//	result, err := pipeline.Run(ctx, stages, pipeline.Options{
//	    Image:   "busybox:latest",
//	    Command: "/bin/echo",
//	    Args:    []string{"hello"},
//	})
//	if err != nil {
//	    return err
//	}
//	os.Exit(result.ExitCode)
package pipeline
