package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/cruciblehq/cruxbox/internal/fault"
	"github.com/cruciblehq/cruxbox/internal/registry"
	"github.com/cruciblehq/cruxbox/internal/sandbox"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Controls a run.
type Options struct {
	Image       string   // Image reference, "name" or "name:tag".
	Command     string   // Absolute path of the command on the host.
	Args        []string // Arguments passed to the command.
	Concurrency int      // Maximum concurrent blob downloads. Values below 2 fetch sequentially.
}

// Returned after the command has run.
type Result struct {
	Reference registry.Reference // Parsed image reference.
	Root      string             // Sandbox root the image was unpacked into.
	Layers    int                // Number of layers applied.
	ExitCode  int                // Exit code of the command.
	Isolated  bool               // Whether the command ran inside the requested namespaces.
}

// Pulls the image into a sandbox and runs the command confined to it.
//
// Stages run strictly in order: reference parsing, sandbox setup,
// authentication, manifest resolution, layer fetch and unpack, confinement,
// execution. Nothing touches the network or the filesystem if the reference
// is invalid. The error of a failing stage is returned tagged with
// [ErrPipeline] and the stage name, with its own kind preserved.
func Run(ctx context.Context, stages Stages, opts Options) (*Result, error) {
	ref, err := registry.ParseReference(opts.Image)
	if err != nil {
		return nil, stageError("parse reference", err)
	}

	slog.Debug("running image command",
		"image", ref.String(),
		"command", opts.Command,
		"args", opts.Args,
		"concurrency", opts.Concurrency,
	)

	return newRun(stages, opts, ref).execute(ctx)
}

// Holds the state threaded through the stages of a single run.
type run struct {
	stages Stages
	opts   Options
	ref    registry.Reference
	box    *sandbox.Sandbox
	token  registry.Token
	layers []ocispec.Descriptor
}

// Creates a new [run] for a parsed reference.
func newRun(stages Stages, opts Options, ref registry.Reference) *run {
	return &run{stages: stages, opts: opts, ref: ref}
}

// Executes the remaining stages in order.
func (r *run) execute(ctx context.Context) (*Result, error) {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"sandbox setup", r.setup},
		{"authentication", r.authenticate},
		{"manifest resolution", r.resolve},
		{"layer unpack", r.unpack},
		{"confinement", r.confine},
	}

	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return nil, stageError(step.name, err)
		}
	}

	res, err := r.stages.Execute.Run(ctx, r.opts.Command, r.opts.Args)
	if err != nil {
		return nil, stageError("execution", err)
	}

	return &Result{
		Reference: r.ref,
		Root:      r.box.Root,
		Layers:    len(r.layers),
		ExitCode:  res.ExitCode,
		Isolated:  res.Isolated,
	}, nil
}

func (r *run) setup(context.Context) error {
	box, err := r.stages.Sandbox.Setup(r.opts.Command)
	if err != nil {
		return err
	}
	r.box = box
	return nil
}

func (r *run) authenticate(ctx context.Context) error {
	token, err := r.stages.Registry.Authenticate(ctx, r.ref.Name)
	if err != nil {
		return err
	}
	r.token = token
	return nil
}

func (r *run) resolve(ctx context.Context) error {
	m, err := r.stages.Registry.ResolveManifest(ctx, r.ref.Name, r.ref.Tag, r.token)
	if err != nil {
		return err
	}
	r.layers = m.Layers
	return nil
}

// Fetches every layer and applies it to the sandbox root in manifest order.
func (r *run) unpack(ctx context.Context) error {
	f := newFetcher(r.stages.Registry, r.ref.Name, r.token, r.opts.Concurrency)

	return f.each(ctx, r.layers, func(i int, blob io.Reader) error {
		slog.Debug("unpacking layer", "index", i+1, "digest", r.layers[i].Digest, "root", r.box.Root)
		if err := r.stages.Unpack(blob, r.box.Root); err != nil {
			return fmt.Errorf("layer %d (%s): %w", i+1, r.layers[i].Digest, err)
		}
		return nil
	})
}

func (r *run) confine(context.Context) error {
	return r.stages.Confine(r.box.Root)
}

// Tags a stage failure with [ErrPipeline] and the stage name.
func stageError(stage string, err error) error {
	return fault.Wrapf(ErrPipeline, "%s: %w", stage, err)
}
