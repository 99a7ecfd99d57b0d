// Package runtime runs the requested command as a child process.
//
// A [Runner] spawns the child with its standard output and error piped back
// to the runtime and, optionally, inside fresh Linux namespaces. The child
// moves through the states of [State]: it is spawned, runs, has both of its
// streams drained to completion, and is finally waited on for its exit
// code. [Runner.Run] composes the whole sequence and re-emits the captured
// output on the runner's own writers, standard output first.
//
// When the kernel refuses the requested namespaces, the runner either fails
// with [isolation.ErrNamespace] or, in best-effort mode, logs a warning and
// spawns the child again in the host namespaces.
//
// Example usage:
//
//	r := &runtime.Runner{
//	    Stdout:     os.Stdout,
//	    Stderr:     os.Stderr,
//	    Namespaces: isolation.DefaultNamespaces(),
//	}
//
//	result, err := r.Run(ctx, "/bin/echo", []string{"hello"})
//	if err != nil {
//	    return err
//	}
//	os.Exit(result.ExitCode)
package runtime
