package fault

import (
	"errors"
	"fmt"
	"io"

	pkgerrors "github.com/pkg/errors"
)

// An error tagged with a sentinel kind.
type classified struct {
	kind  error // Sentinel the error is classified under.
	cause error // Underlying failure, carrying a stack trace.
}

// Implemented by causes that already carry a stack trace.
type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Classifies err under kind. Returns nil if err is nil.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, cause: withStack(err)}
}

// Classifies a formatted message under kind.
//
// The format is processed by [fmt.Errorf], so %w verbs keep their operands
// in the chain.
func Wrapf(kind error, format string, args ...any) error {
	return &classified{kind: kind, cause: withStack(fmt.Errorf(format, args...))}
}

// Records a stack trace unless one already exists somewhere in the chain.
func withStack(err error) error {
	var st stackTracer
	if errors.As(err, &st) {
		return err
	}
	return pkgerrors.WithStack(err)
}

func (e *classified) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *classified) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// Formats the error. %+v appends the cause's stack trace.
func (e *classified) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s: %+v", e.kind, e.cause)
			return
		}
		io.WriteString(s, e.Error())
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	default:
		io.WriteString(s, e.Error())
	}
}
