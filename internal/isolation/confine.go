package isolation

import (
	"log/slog"
	"sync/atomic"

	"github.com/cruciblehq/cruxbox/internal/fault"
	"golang.org/x/sys/unix"
)

// Set once a Confinement has been issued in this process.
var issued atomic.Bool

// Root change primitives. Replaced in tests.
var (
	chroot = unix.Chroot
	chdir  = unix.Chdir
)

// The capability to change the process root, usable once.
type Confinement struct {
	root     string      // Directory that becomes "/".
	consumed atomic.Bool // Set by the first Apply.
}

// Issues the process's only Confinement.
//
// Returns [ErrAlreadyConfined] if one was issued before, whether or not it
// has been applied.
func NewConfinement(root string) (*Confinement, error) {
	if !issued.CompareAndSwap(false, true) {
		return nil, fault.Wrapf(ErrAlreadyConfined, "confinement to %q requested twice", root)
	}
	return &Confinement{root: root}, nil
}

// Returns the directory the confinement targets.
func (c *Confinement) Root() string {
	return c.root
}

// Changes the process root to the sandbox and the working directory to the
// new "/".
//
// The root change comes first; changing directory before it would leave the
// working directory outside the new root. Any failure is fatal. A second
// call returns [ErrAlreadyConfined] without touching the process.
func (c *Confinement) Apply() error {
	if !c.consumed.CompareAndSwap(false, true) {
		return fault.Wrapf(ErrAlreadyConfined, "confinement to %q already applied", c.root)
	}

	if err := chroot(c.root); err != nil {
		return fault.Wrapf(ErrConfinement, "changing root to %q: %w", c.root, err)
	}

	if err := chdir("/"); err != nil {
		return fault.Wrapf(ErrConfinement, "changing directory to new root: %w", err)
	}

	slog.Debug("process confined", "root", c.root)
	return nil
}

// Issues and applies the process's confinement to root.
func Confine(root string) error {
	c, err := NewConfinement(root)
	if err != nil {
		return err
	}
	return c.Apply()
}
