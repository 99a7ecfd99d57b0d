package pipeline

import (
	"context"
	"io"

	"github.com/cruciblehq/cruxbox/internal/isolation"
	"github.com/cruciblehq/cruxbox/internal/layer"
	"github.com/cruciblehq/cruxbox/internal/registry"
	"github.com/cruciblehq/cruxbox/internal/runtime"
	"github.com/cruciblehq/cruxbox/internal/sandbox"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Image source. Satisfied by [registry.Client].
type Registry interface {
	Authenticate(ctx context.Context, name string) (registry.Token, error)
	ResolveManifest(ctx context.Context, name, tag string, token registry.Token) (*ocispec.Manifest, error)
	FetchBlob(ctx context.Context, name string, dgst digest.Digest, token registry.Token) (io.ReadCloser, error)
}

// Prepares the sandbox root. Satisfied by [sandbox.Builder].
type Sandboxer interface {
	Setup(command string) (*sandbox.Sandbox, error)
}

// Runs the command once confined. Satisfied by [runtime.Runner].
type Executor interface {
	Run(ctx context.Context, path string, args []string) (*runtime.Result, error)
}

// The replaceable parts of a run.
type Stages struct {
	Registry Registry                             // Authenticates and serves manifests and blobs.
	Sandbox  Sandboxer                            // Builds the sandbox root.
	Unpack   func(r io.Reader, root string) error // Applies one layer blob to the root.
	Confine  func(root string) error              // Changes the process root, once.
	Execute  Executor                             // Runs the command.
}

// Creates the production stages around the given components.
//
// Layers are unpacked with [layer.Unpack] and the process is confined with
// [isolation.Confine].
func NewStages(reg Registry, sb Sandboxer, exec Executor) Stages {
	return Stages{
		Registry: reg,
		Sandbox:  sb,
		Unpack:   layer.Unpack,
		Confine:  isolation.Confine,
		Execute:  exec,
	}
}
