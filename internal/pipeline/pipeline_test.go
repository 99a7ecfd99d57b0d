package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cruciblehq/cruxbox/internal/isolation"
	"github.com/cruciblehq/cruxbox/internal/layer"
	"github.com/cruciblehq/cruxbox/internal/registry"
	"github.com/cruciblehq/cruxbox/internal/runtime"
	"github.com/cruciblehq/cruxbox/internal/sandbox"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Records the calls made by the fake stages, in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeRegistry struct {
	rec      *recorder
	layers   []ocispec.Descriptor
	blobs    map[digest.Digest]string
	delay    map[digest.Digest]time.Duration
	authErr  error
	manErr   error
	fetchErr error

	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeRegistry) Authenticate(ctx context.Context, name string) (registry.Token, error) {
	f.rec.add("auth %s", name)
	if f.authErr != nil {
		return registry.Token{}, f.authErr
	}
	return registry.Token{Token: "secret"}, nil
}

func (f *fakeRegistry) ResolveManifest(ctx context.Context, name, tag string, token registry.Token) (*ocispec.Manifest, error) {
	f.rec.add("manifest %s:%s %s", name, tag, token.Bearer())
	if f.manErr != nil {
		return nil, f.manErr
	}
	return &ocispec.Manifest{Layers: f.layers}, nil
}

func (f *fakeRegistry) FetchBlob(ctx context.Context, name string, dgst digest.Digest, token registry.Token) (io.ReadCloser, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	time.Sleep(f.delay[dgst])
	f.rec.add("fetch %s", dgst)

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return io.NopCloser(strings.NewReader(f.blobs[dgst])), nil
}

type fakeSandbox struct {
	rec  *recorder
	root string
	err  error
}

func (f *fakeSandbox) Setup(command string) (*sandbox.Sandbox, error) {
	f.rec.add("setup %s", command)
	if f.err != nil {
		return nil, f.err
	}
	return &sandbox.Sandbox{Root: f.root}, nil
}

type fakeExecutor struct {
	rec  *recorder
	code int
}

func (f *fakeExecutor) Run(ctx context.Context, path string, args []string) (*runtime.Result, error) {
	f.rec.add("exec %s %s", path, strings.Join(args, " "))
	return &runtime.Result{ExitCode: f.code}, nil
}

type fixture struct {
	rec        *recorder
	reg        *fakeRegistry
	box        *fakeSandbox
	exec       *fakeExecutor
	unpackErr  error
	confineErr error
}

func newFixture(layers ...string) *fixture {
	rec := &recorder{}
	reg := &fakeRegistry{
		rec:   rec,
		blobs: make(map[digest.Digest]string),
		delay: make(map[digest.Digest]time.Duration),
	}
	for _, l := range layers {
		d := digest.Digest("sha256:" + l)
		reg.layers = append(reg.layers, ocispec.Descriptor{MediaType: registry.MediaTypeDockerLayer, Digest: d})
		reg.blobs[d] = l + "-data"
	}
	return &fixture{
		rec:  rec,
		reg:  reg,
		box:  &fakeSandbox{rec: rec, root: "sandbox"},
		exec: &fakeExecutor{rec: rec},
	}
}

func (f *fixture) stages() Stages {
	return Stages{
		Registry: f.reg,
		Sandbox:  f.box,
		Unpack: func(r io.Reader, root string) error {
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			f.rec.add("unpack %s into %s", data, root)
			return f.unpackErr
		},
		Confine: func(root string) error {
			f.rec.add("confine %s", root)
			return f.confineErr
		},
		Execute: f.exec,
	}
}

func TestRun(t *testing.T) {
	f := newFixture("abc")
	f.exec.code = 7

	res, err := Run(context.Background(), f.stages(), Options{
		Image:   "busybox",
		Command: "/bin/echo",
		Args:    []string{"hello"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		"setup /bin/echo",
		"auth busybox",
		"manifest busybox:latest Bearer secret",
		"fetch sha256:abc",
		"unpack abc-data into sandbox",
		"confine sandbox",
		"exec /bin/echo hello",
	}
	if got := f.rec.list(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events:\n got: %q\nwant: %q", got, want)
	}

	if res.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", res.ExitCode)
	}
	if res.Layers != 1 || res.Root != "sandbox" {
		t.Errorf("Result = %+v", res)
	}
	if res.Reference != (registry.Reference{Name: "busybox", Tag: "latest"}) {
		t.Errorf("Reference = %+v", res.Reference)
	}
}

func TestRunLayerOrder(t *testing.T) {
	for _, concurrency := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			f := newFixture("l1", "l2", "l3", "l4")

			// Earlier layers take longer, so concurrent downloads finish in
			// reverse order.
			for i, l := range f.reg.layers {
				f.reg.delay[l.Digest] = time.Duration(len(f.reg.layers)-i) * 10 * time.Millisecond
			}

			_, err := Run(context.Background(), f.stages(), Options{
				Image:       "busybox:1.36",
				Command:     "/bin/true",
				Concurrency: concurrency,
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			var unpacked []string
			for _, e := range f.rec.list() {
				if strings.HasPrefix(e, "unpack ") {
					unpacked = append(unpacked, e)
				}
			}
			want := []string{
				"unpack l1-data into sandbox",
				"unpack l2-data into sandbox",
				"unpack l3-data into sandbox",
				"unpack l4-data into sandbox",
			}
			if !reflect.DeepEqual(unpacked, want) {
				t.Fatalf("unpack order:\n got: %q\nwant: %q", unpacked, want)
			}

			if peak := int(f.reg.peak.Load()); peak > max(concurrency, 1) {
				t.Errorf("peak concurrent fetches = %d, limit %d", peak, concurrency)
			}
		})
	}
}

func TestRunInvalidReference(t *testing.T) {
	for _, image := range []string{"", "busybox:", "a:b:c", "Bad Name"} {
		t.Run(image, func(t *testing.T) {
			f := newFixture("abc")

			_, err := Run(context.Background(), f.stages(), Options{Image: image, Command: "/bin/echo"})
			if !errors.Is(err, ErrPipeline) || !errors.Is(err, registry.ErrImageReference) {
				t.Fatalf("error = %v, want ErrPipeline and ErrImageReference", err)
			}
			if events := f.rec.list(); len(events) != 0 {
				t.Fatalf("stages ran for invalid reference: %q", events)
			}
		})
	}
}

func TestRunStageFailure(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*fixture)
		wantErr   error
		wantLast  string
	}{
		{
			name:      "sandbox",
			configure: func(f *fixture) { f.box.err = sandbox.ErrSandboxSetup },
			wantErr:   sandbox.ErrSandboxSetup,
			wantLast:  "setup /bin/echo",
		},
		{
			name:      "auth",
			configure: func(f *fixture) { f.reg.authErr = registry.ErrAuth },
			wantErr:   registry.ErrAuth,
			wantLast:  "auth busybox",
		},
		{
			name:      "manifest",
			configure: func(f *fixture) { f.reg.manErr = registry.ErrManifest },
			wantErr:   registry.ErrManifest,
			wantLast:  "manifest busybox:latest Bearer secret",
		},
		{
			name:      "blob",
			configure: func(f *fixture) { f.reg.fetchErr = registry.ErrBlobFetch },
			wantErr:   registry.ErrBlobFetch,
			wantLast:  "fetch sha256:abc",
		},
		{
			name:      "unpack",
			configure: func(f *fixture) { f.unpackErr = layer.ErrExtraction },
			wantErr:   layer.ErrExtraction,
			wantLast:  "unpack abc-data into sandbox",
		},
		{
			name:      "confine",
			configure: func(f *fixture) { f.confineErr = isolation.ErrConfinement },
			wantErr:   isolation.ErrConfinement,
			wantLast:  "confine sandbox",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("abc")
			tt.configure(f)

			_, err := Run(context.Background(), f.stages(), Options{Image: "busybox", Command: "/bin/echo"})
			if !errors.Is(err, ErrPipeline) || !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want ErrPipeline and %v", err, tt.wantErr)
			}

			events := f.rec.list()
			if last := events[len(events)-1]; last != tt.wantLast {
				t.Fatalf("last event = %q, want %q (all: %q)", last, tt.wantLast, events)
			}
		})
	}
}

func TestPrefetchFailureAppliesNothing(t *testing.T) {
	f := newFixture("l1", "l2", "l3")
	f.reg.fetchErr = registry.ErrBlobFetch

	_, err := Run(context.Background(), f.stages(), Options{
		Image:       "busybox",
		Command:     "/bin/echo",
		Concurrency: 3,
	})
	if !errors.Is(err, registry.ErrBlobFetch) {
		t.Fatalf("error = %v, want ErrBlobFetch", err)
	}

	for _, e := range f.rec.list() {
		if strings.HasPrefix(e, "unpack ") || strings.HasPrefix(e, "confine ") {
			t.Fatalf("unexpected event after failed prefetch: %q", e)
		}
	}
}

func TestRunNoLayers(t *testing.T) {
	f := newFixture()

	res, err := Run(context.Background(), f.stages(), Options{Image: "scratchy", Command: "/bin/echo"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Layers != 0 {
		t.Errorf("Layers = %d", res.Layers)
	}
}

func TestPrefetchIgnoresOversizedDescriptor(t *testing.T) {
	f := newFixture("abc")
	f.reg.layers[0].Size = 1 << 62

	_, err := Run(context.Background(), f.stages(), Options{
		Image:       "busybox",
		Command:     "/bin/echo",
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "unpack abc-data into sandbox"
	found := false
	for _, e := range f.rec.list() {
		found = found || e == want
	}
	if !found {
		t.Fatalf("events %q missing %q", f.rec.list(), want)
	}
}
