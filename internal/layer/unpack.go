package layer

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/cruxbox/internal/fault"
	"github.com/cruciblehq/cruxbox/internal/paths"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sys/unix"
)

const (

	// Prefix marking a whiteout entry.
	whiteoutPrefix = ".wh."

	// Whiteout marking a directory as opaque.
	whiteoutOpaque = whiteoutPrefix + whiteoutPrefix + ".opq"
)

// Extracts a gzip-compressed tar stream into root.
//
// Intermediate directories are created as needed. An entry replaces
// whatever an earlier layer left at the same path, except that a directory
// entry over an existing directory only updates its mode. Device nodes that
// cannot be created (typically for lack of privilege) are skipped, as are
// entry types that carry no file.
func Unpack(r io.Reader, root string) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fault.Wrapf(ErrExtraction, "attempting to decompress image layer: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	u := newUnpacker(root)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fault.Wrapf(ErrExtraction, "attempting to decompress image layer: %w", err)
		}

		if err := u.extract(tr, hdr); err != nil {
			return fault.Wrapf(ErrExtraction, "extracting %q: %w", hdr.Name, err)
		}
	}

	if err := u.applyOpaque(); err != nil {
		return fault.Wrap(ErrExtraction, err)
	}

	slog.Debug("layer unpacked", "root", root, "entries", len(u.written))
	return nil
}

// Tracks what a single layer writes, so opaque directories can be cleared
// of everything the layers below left in them.
type unpacker struct {
	root      string
	written   map[string]bool // Entry paths written by this layer.
	ancestors map[string]bool // Directories above written entries.
	opaque    []string        // Directories marked opaque by this layer.
}

func newUnpacker(root string) *unpacker {
	return &unpacker{
		root:      root,
		written:   make(map[string]bool),
		ancestors: make(map[string]bool),
	}
}

// Writes a single archive entry below the root.
func (u *unpacker) extract(tr *tar.Reader, hdr *tar.Header) error {
	name := filepath.Clean("/" + hdr.Name)
	if name == "/" {
		return nil
	}

	dir, base := filepath.Split(name)

	if strings.HasPrefix(base, whiteoutPrefix) {
		return u.whiteout(dir, base)
	}

	if !supported(hdr.Typeflag) {
		slog.Debug("skipping unsupported entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		return nil
	}

	// Resolve the parent inside root; the final component is created
	// as-is so that symlinks from earlier layers are replaced, not followed.
	parent, err := securejoin.SecureJoin(u.root, dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(parent, paths.DefaultDirMode); err != nil {
		return err
	}

	u.record(name)
	target := filepath.Join(parent, base)

	if hdr.Typeflag == tar.TypeDir {
		return extractDir(target, hdr.FileInfo().Mode())
	}

	if err := os.RemoveAll(target); err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeReg:
		return extractFile(tr, target, hdr)

	case tar.TypeSymlink:
		return os.Symlink(hdr.Linkname, target)

	case tar.TypeLink:
		source, err := u.linkSource(hdr.Linkname)
		if err != nil {
			return err
		}
		return os.Link(source, target)

	default:
		return extractNode(target, hdr)
	}
}

// Whether entries of the given type are written to the filesystem.
func supported(typeflag byte) bool {
	switch typeflag {
	case tar.TypeDir, tar.TypeReg, tar.TypeSymlink, tar.TypeLink,
		tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		return true
	default:
		return false
	}
}

// Returns the path a hard link entry points at.
//
// Only the parent is resolved inside root. The final component is linked
// as-is, so a hard link to a symlink links the symlink itself.
func (u *unpacker) linkSource(linkname string) (string, error) {
	clean := filepath.Clean("/" + linkname)
	if clean == "/" {
		return "", fmt.Errorf("hard link to the layer root")
	}

	dir, base := filepath.Split(clean)
	parent, err := securejoin.SecureJoin(u.root, dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}

// Records name and its ancestors as written by this layer.
func (u *unpacker) record(name string) {
	u.written[name] = true
	for dir := filepath.Dir(name); dir != "/"; dir = filepath.Dir(dir) {
		u.ancestors[dir] = true
	}
}

// Applies a whiteout entry found in dir, a cleaned absolute layer path.
//
// ".wh.<name>" removes <name> left by an earlier layer. Opaque markers are
// applied once the whole layer has been written. Nothing is created for a
// whiteout whose directory does not exist.
func (u *unpacker) whiteout(dir, base string) error {
	if base == whiteoutOpaque {
		u.opaque = append(u.opaque, filepath.Clean(dir))
		return nil
	}

	victim := strings.TrimPrefix(base, whiteoutPrefix)
	if victim == "" || victim == "." || victim == ".." {
		return fmt.Errorf("invalid whiteout %q", base)
	}

	parent, err := securejoin.SecureJoin(u.root, dir)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(parent); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return os.RemoveAll(filepath.Join(parent, victim))
}

// Clears every opaque directory of the entries this layer did not write.
func (u *unpacker) applyOpaque() error {
	for _, dir := range u.opaque {
		path, err := securejoin.SecureJoin(u.root, dir)
		if err != nil {
			return err
		}

		info, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			continue
		}

		slog.Debug("clearing opaque directory", "dir", dir)
		if err := u.prune(path, dir); err != nil {
			return fmt.Errorf("clearing opaque directory %q: %w", dir, err)
		}
	}
	return nil
}

// Removes the children of path (the on-disk location of the layer
// directory rel) that this layer did not write, descending into
// directories that hold entries it did write.
func (u *unpacker) prune(path, rel string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}

	for _, e := range entries {
		childRel := filepath.Join(rel, e.Name())
		childPath := filepath.Join(path, e.Name())

		isDir := e.Type().IsDir()
		switch {
		case isDir && (u.written[childRel] || u.ancestors[childRel]):
			if err := u.prune(childPath, childRel); err != nil {
				return err
			}
		case !isDir && u.written[childRel]:
		default:
			if err := os.RemoveAll(childPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// Creates a directory, or updates the mode of an existing one.
func extractDir(target string, mode fs.FileMode) error {
	info, err := os.Lstat(target)
	switch {
	case err == nil && info.IsDir():
	case err == nil:
		if err := os.Remove(target); err != nil {
			return err
		}
		fallthrough
	case errors.Is(err, fs.ErrNotExist):
		if err := os.Mkdir(target, paths.DefaultDirMode); err != nil {
			return err
		}
	default:
		return err
	}
	return os.Chmod(target, fileMode(mode))
}

// Writes a regular file with the entry's contents, mode, and times.
func extractFile(tr *tar.Reader, target string, hdr *tar.Header) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, paths.DefaultFileMode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, tr); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Chmod after writing so the umask does not apply and setuid bits stick.
	if err := os.Chmod(target, fileMode(hdr.FileInfo().Mode())); err != nil {
		return err
	}
	return os.Chtimes(target, hdr.AccessTime, hdr.ModTime)
}

// Creates a device node or fifo.
func extractNode(target string, hdr *tar.Header) error {
	mode := uint32(hdr.Mode & 0o7777)
	switch hdr.Typeflag {
	case tar.TypeChar:
		mode |= unix.S_IFCHR
	case tar.TypeBlock:
		mode |= unix.S_IFBLK
	case tar.TypeFifo:
		mode |= unix.S_IFIFO
	}

	dev := unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
	if err := unix.Mknod(target, mode, int(dev)); err != nil {
		if errors.Is(err, unix.EPERM) {
			slog.Debug("skipping device node", "path", target, "error", err)
			return nil
		}
		return err
	}
	return nil
}

// Keeps the permission and special bits of a tar mode.
func fileMode(m fs.FileMode) fs.FileMode {
	return m & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
}
