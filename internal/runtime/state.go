package runtime

import "fmt"

// Lifecycle state of a child process.
type State int

const (
	Spawning State = iota // Process is being created.
	Running               // Process started, output not yet consumed.
	Draining              // Output streams are being read to completion.
	Exited                // Process reaped, exit code known.
)

// Returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Spawning:
		return "spawning"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
