// Package sandbox prepares the directory tree a confined command runs in.
//
// A [Builder] creates the sandbox root, a dev directory with a null device,
// and a copy of the target executable at the path that mirrors its absolute
// location on the host. Once the process root is changed to the sandbox,
// the command can still be started by the same absolute path it had
// outside.
//
// The sandbox is never removed; re-running setup against an existing tree
// reuses its directories and overwrites the executable copy.
//
// Example usage:
//
//	sb, err := sandbox.NewBuilder("./sandbox").Setup("/bin/echo")
//	if err != nil {
//	    return err
//	}
//	// sb.Root now contains bin/echo and dev/null.
package sandbox
