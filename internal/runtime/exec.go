package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/cruciblehq/cruxbox/internal/fault"
	"github.com/cruciblehq/cruxbox/internal/isolation"
	"golang.org/x/sync/errgroup"
)

// Exit code reported when the child's own code cannot be determined, which
// happens when it is terminated by a signal.
const FallbackExitCode = 0

// Spawns commands and relays their output.
type Runner struct {
	Stdout     io.Writer            // Receives the child's standard output. Nil discards it.
	Stderr     io.Writer            // Receives the child's standard error. Nil discards it.
	Env        []string             // KEY=VALUE entries layered over the inherited environment.
	Namespaces isolation.Namespaces // Namespaces the child is created in.
}

// Captured output of a child process.
type Output struct {
	Stdout []byte // Everything the child wrote to standard output.
	Stderr []byte // Everything the child wrote to standard error.
}

// Outcome of a completed command.
type Result struct {
	ExitCode int    // Exit code of the process, or [FallbackExitCode].
	Stdout   string // Captured standard output.
	Stderr   string // Captured standard error.
	Isolated bool   // Whether the child ran inside the requested namespaces.
}

// A spawned child process.
//
// The owner must call [Child.Drain] before [Child.Wait]; waiting closes the
// pipes the output is read from.
type Child struct {
	Pid      int  // Process ID in the runtime's PID namespace.
	Isolated bool // Whether the requested namespaces were applied.

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	state  State
}

// Starts path with args as a child process.
//
// The child has no standard input; its output and error streams are piped
// back to the caller. If the kernel refuses the requested namespaces the
// outcome depends on the namespace mode: strict mode returns
// [isolation.ErrNamespace], best-effort mode logs a warning and spawns the
// child again without namespaces.
func (r *Runner) Spawn(ctx context.Context, path string, args []string) (*Child, error) {
	flags, err := r.Namespaces.CloneFlags()
	if err != nil {
		return nil, err
	}

	slog.Debug("spawning command", "path", path, "args", args, "namespaces", r.Namespaces.Types)

	child, err := r.start(ctx, path, args, flags)
	if err == nil {
		return child, nil
	}

	if flags == 0 || !isolation.Refused(err) {
		return nil, fault.Wrapf(ErrSpawn, "starting %q: %w", path, err)
	}

	if r.Namespaces.Mode == isolation.Strict {
		return nil, fault.Wrapf(isolation.ErrNamespace, "kernel refused namespaces %v for %q: %w", r.Namespaces.Types, path, err)
	}

	slog.Warn("namespaces refused, running without isolation", "path", path, "error", err)

	child, err = r.start(ctx, path, args, 0)
	if err != nil {
		return nil, fault.Wrapf(ErrSpawn, "starting %q: %w", path, err)
	}
	return child, nil
}

// Creates the command, wires its pipes and starts it.
func (r *Runner) start(ctx context.Context, path string, args []string, flags uintptr) (*Child, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = mergeEnv(os.Environ(), r.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: flags}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &Child{
		Pid:      cmd.Process.Pid,
		Isolated: flags != 0,
		cmd:      cmd,
		stdout:   stdout,
		stderr:   stderr,
		state:    Spawning,
	}
	c.transition(Running)
	return c, nil
}

// Reads both output streams to completion.
//
// The streams are read concurrently so a child filling one pipe cannot block
// while the other is being read.
func (c *Child) Drain() (*Output, error) {
	c.transition(Draining)

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return readStream(&stdout, c.stdout, "stdout") })
	g.Go(func() error { return readStream(&stderr, c.stderr, "stderr") })

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// Waits for the child to exit and returns its exit code.
//
// A child terminated by a signal has no exit code; [FallbackExitCode] is
// returned in that case. A non-zero exit code is not an error.
func (c *Child) Wait() (int, error) {
	err := c.cmd.Wait()
	c.transition(Exited)

	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, fault.Wrapf(ErrWait, "waiting for process %d: %w", c.Pid, err)
	}

	if code := exitErr.ExitCode(); code >= 0 {
		return code, nil
	}

	slog.Debug("process terminated by signal", "pid", c.Pid, "status", exitErr.String())
	return FallbackExitCode, nil
}

// Returns the current lifecycle state.
func (c *Child) State() State {
	return c.state
}

// Kills the child and reaps it. Used when its output cannot be consumed.
func (c *Child) abort() {
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("failed to kill process", "pid", c.Pid, "error", err)
	}
	c.cmd.Wait()
	c.transition(Exited)
}

func (c *Child) transition(s State) {
	slog.Debug("process state changed", "pid", c.Pid, "from", c.state, "to", s)
	c.state = s
}

// Runs path with args to completion.
//
// The child is spawned and drained, its standard output and then its
// standard error are written to the runner's writers, and the exit code is
// collected. If ctx is cancelled while the child runs, the child is killed
// and the context error is returned.
func (r *Runner) Run(ctx context.Context, path string, args []string) (*Result, error) {
	child, err := r.Spawn(ctx, path, args)
	if err != nil {
		return nil, err
	}

	out, err := child.Drain()
	if err != nil {
		child.abort()
		return nil, err
	}

	relay(r.Stdout, out.Stdout, "stdout")
	relay(r.Stderr, out.Stderr, "stderr")

	code, err := child.Wait()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fault.Wrapf(ErrWait, "command %q interrupted: %w", path, err)
	}

	return &Result{
		ExitCode: code,
		Stdout:   string(out.Stdout),
		Stderr:   string(out.Stderr),
		Isolated: child.Isolated,
	}, nil
}

// Reads a child stream into buf until EOF.
func readStream(buf *bytes.Buffer, r io.Reader, name string) error {
	if _, err := buf.ReadFrom(r); err != nil {
		return fault.Wrapf(ErrStreamRead, "reading child %s: %w", name, err)
	}
	return nil
}

// Writes captured output to w. Failures are logged, the child has already
// produced its result.
func relay(w io.Writer, data []byte, name string) {
	if w == nil || len(data) == 0 {
		return
	}
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to relay output", "stream", name, "error", err)
	}
}

// Merges override env vars on top of a base env slice.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}
	for _, entry := range overrides {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	return result
}
