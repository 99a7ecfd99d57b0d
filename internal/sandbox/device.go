package sandbox

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/cruciblehq/cruxbox/internal/paths"
	"golang.org/x/sys/unix"
)

// Device numbers of the null device.
const (
	nullMajor = 1
	nullMinor = 3
)

// Makes sure a null device exists at path.
//
// Existing entries are left alone. Otherwise a character device is created,
// falling back to an empty regular file when mknod is not permitted. Reads
// from the fallback return EOF immediately, which is all the child's stdin
// needs.
func ensureNullDevice(path string) error {
	if _, err := os.Lstat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	dev := unix.Mkdev(nullMajor, nullMinor)
	err := unix.Mknod(path, unix.S_IFCHR|uint32(paths.DevNullMode), int(dev))
	if err == nil {
		// mknod is subject to the umask.
		return os.Chmod(path, paths.DevNullMode)
	}

	slog.Debug("mknod refused, creating placeholder", "path", path, "error", err)
	return os.WriteFile(path, nil, paths.DevNullMode)
}
