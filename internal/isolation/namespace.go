package isolation

import (
	"errors"
	"fmt"

	"github.com/cruciblehq/cruxbox/internal/fault"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// What to do when the kernel refuses the requested namespaces.
type Mode int

const (

	// Refusal aborts the run.
	Strict Mode = iota

	// Refusal is logged and the child runs in the host namespaces.
	BestEffort
)

// Returns the flag spelling of the mode.
func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Clone flag for each supported namespace type.
var cloneFlags = map[specs.LinuxNamespaceType]uintptr{
	specs.PIDNamespace:     unix.CLONE_NEWPID,
	specs.UTSNamespace:     unix.CLONE_NEWUTS,
	specs.IPCNamespace:     unix.CLONE_NEWIPC,
	specs.NetworkNamespace: unix.CLONE_NEWNET,
	specs.MountNamespace:   unix.CLONE_NEWNS,
	specs.UserNamespace:    unix.CLONE_NEWUSER,
	specs.CgroupNamespace:  unix.CLONE_NEWCGROUP,
}

// Namespaces requested for a child process.
type Namespaces struct {
	Types []specs.LinuxNamespaceType // Namespaces to create. Empty means none.
	Mode  Mode                       // Policy when the kernel refuses them.
}

// Returns the default request: a new PID namespace, strict.
func DefaultNamespaces() Namespaces {
	return Namespaces{Types: []specs.LinuxNamespaceType{specs.PIDNamespace}}
}

// Returns the clone flags for the requested namespaces.
func (n Namespaces) CloneFlags() (uintptr, error) {
	var flags uintptr
	for _, t := range n.Types {
		f, ok := cloneFlags[t]
		if !ok {
			return 0, fault.Wrapf(ErrNamespace, "unsupported namespace type %q", t)
		}
		flags |= f
	}
	return flags, nil
}

// Whether err is the kernel refusing to create namespaces.
//
// clone(2) fails with EPERM without the required privilege and EINVAL when
// the kernel lacks support for a requested namespace type.
func Refused(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, unix.EINVAL)
}
