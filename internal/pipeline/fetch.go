package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/cruciblehq/cruxbox/internal/fault"
	"github.com/cruciblehq/cruxbox/internal/registry"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"
)

// Upper bound on the buffer reserved up front from a descriptor's size.
// Larger blobs grow the buffer as they are read.
const maxPrealloc = 64 << 20

// Delivers layer blobs to apply, strictly in the order given.
type fetcher interface {
	each(ctx context.Context, layers []ocispec.Descriptor, apply func(int, io.Reader) error) error
}

// Returns the fetcher for the requested concurrency.
func newFetcher(reg Registry, name string, token registry.Token, concurrency int) fetcher {
	if concurrency > 1 {
		return &prefetcher{reg: reg, name: name, token: token, limit: concurrency}
	}
	return &sequentialFetcher{reg: reg, name: name, token: token}
}

// Fetches one blob at a time and applies it straight from the response body.
type sequentialFetcher struct {
	reg   Registry
	name  string
	token registry.Token
}

func (f *sequentialFetcher) each(ctx context.Context, layers []ocispec.Descriptor, apply func(int, io.Reader) error) error {
	for i, desc := range layers {
		slog.Debug("fetching layer", "index", i+1, "digest", desc.Digest, "size", desc.Size)

		if err := f.one(ctx, i, desc, apply); err != nil {
			return err
		}
	}
	return nil
}

func (f *sequentialFetcher) one(ctx context.Context, i int, desc ocispec.Descriptor, apply func(int, io.Reader) error) error {
	rc, err := f.reg.FetchBlob(ctx, f.name, desc.Digest, f.token)
	if err != nil {
		return err
	}
	defer rc.Close()

	return apply(i, rc)
}

// Downloads up to limit blobs concurrently into memory, then applies them
// in manifest order once every download has finished.
type prefetcher struct {
	reg   Registry
	name  string
	token registry.Token
	limit int
}

func (f *prefetcher) each(ctx context.Context, layers []ocispec.Descriptor, apply func(int, io.Reader) error) error {
	blobs := make([][]byte, len(layers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit)

	for i, desc := range layers {
		g.Go(func() error {
			slog.Debug("prefetching layer", "index", i+1, "digest", desc.Digest, "size", desc.Size)

			data, err := f.download(gctx, desc)
			if err != nil {
				return err
			}
			blobs[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i := range layers {
		if err := apply(i, bytes.NewReader(blobs[i])); err != nil {
			return err
		}
		blobs[i] = nil
	}
	return nil
}

// Reads a whole blob into memory.
func (f *prefetcher) download(ctx context.Context, desc ocispec.Descriptor) ([]byte, error) {
	rc, err := f.reg.FetchBlob(ctx, f.name, desc.Digest, f.token)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if desc.Size > 0 {
		buf.Grow(int(min(desc.Size, maxPrealloc)))
	}
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fault.Wrapf(registry.ErrBlobFetch, "downloading layer %s: %w", desc.Digest, err)
	}
	return buf.Bytes(), nil
}
