package sandbox

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cruciblehq/cruxbox/internal/fault"
	"github.com/cruciblehq/cruxbox/internal/paths"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// A prepared sandbox root.
type Sandbox struct {
	Root string // Directory that becomes the process root.
}

// Creates sandbox directory trees.
type Builder struct {
	Root        string // Sandbox root directory.
	HostDevNull string // Host null device to ensure. Defaults to [paths.DevNull].
}

// Creates a builder for the given root. An empty root selects
// [paths.DefaultSandboxRoot].
func NewBuilder(root string) *Builder {
	if root == "" {
		root = paths.DefaultSandboxRoot
	}
	return &Builder{
		Root:        root,
		HostDevNull: paths.DevNull,
	}
}

// Builds the sandbox for the executable at command.
//
// The root and its dev directory are created, the host and sandbox null
// devices are ensured, and the executable is copied to the mirrored path
// inside the root. The command path must be absolute. A root left by an
// earlier run is reused; symlinks it contains are resolved inside the root.
func (b *Builder) Setup(command string) (*Sandbox, error) {
	dest, err := MirrorPath(b.Root, command)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(b.Root, paths.DefaultDirMode); err != nil {
		return nil, fault.Wrapf(ErrSandboxSetup, "creating sandbox directory %q: %w", b.Root, err)
	}

	hostNull := b.HostDevNull
	if hostNull == "" {
		hostNull = paths.DevNull
	}
	if err := ensureNullDevice(hostNull); err != nil {
		return nil, fault.Wrapf(ErrSandboxSetup, "creating %q: %w", hostNull, err)
	}

	sandboxNull, err := MirrorPath(b.Root, paths.DevNull)
	if err != nil {
		return nil, err
	}

	devDir := filepath.Dir(sandboxNull)
	if err := os.MkdirAll(devDir, paths.DefaultDirMode); err != nil {
		return nil, fault.Wrapf(ErrSandboxSetup, "creating %q directory: %w", devDir, err)
	}

	if err := ensureNullDevice(sandboxNull); err != nil {
		return nil, fault.Wrapf(ErrSandboxSetup, "creating %q: %w", sandboxNull, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), paths.DefaultDirMode); err != nil {
		return nil, fault.Wrapf(ErrSandboxSetup, "creating directories for command %q: %w", command, err)
	}

	if err := copyExecutable(command, dest); err != nil {
		return nil, fault.Wrapf(ErrSandboxSetup, "copying %q: %w", command, err)
	}

	slog.Debug("sandbox ready", "root", b.Root, "command", dest)
	return &Sandbox{Root: b.Root}, nil
}

// Returns the path inside root that mirrors the absolute host path.
//
// "/bin/echo" under "./sandbox" maps to "sandbox/bin/echo", and executables
// directly under "/" map directly under root. The parent directories are
// resolved inside root, so a symlink an earlier layer left on the way (even
// an absolute one) cannot lead outside it. The final component is not
// resolved; callers replace it rather than follow it.
func MirrorPath(root, hostPath string) (string, error) {
	if !filepath.IsAbs(hostPath) {
		return "", fault.Wrapf(ErrSandboxSetup, "command path %q is not absolute", hostPath)
	}

	clean := filepath.Clean(hostPath)
	if clean == string(filepath.Separator) {
		return "", fault.Wrapf(ErrSandboxSetup, "command path %q names the filesystem root", hostPath)
	}

	dir, base := filepath.Split(clean)
	parent, err := securejoin.SecureJoin(root, dir)
	if err != nil {
		return "", fault.Wrapf(ErrSandboxSetup, "resolving %q inside %q: %w", dir, root, err)
	}

	return filepath.Join(parent, base), nil
}

// Copies src to dst, replacing dst and preserving the source mode.
func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	// Remove first: dst may be a symlink or a busy executable from a
	// previous run.
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chmod(dst, info.Mode().Perm())
}
