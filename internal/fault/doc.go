// Classifies errors under package-level sentinel kinds.
//
// Every package in cruxbox declares its failure kinds as sentinel errors in
// an errors.go file. [Wrap] and [Wrapf] attach one of those kinds to a cause
// so that callers can test the kind with [errors.Is] while the cause chain
// stays intact:
//
//	if err := send(req); err != nil {
//	    return fault.Wrapf(ErrManifest, "sending manifest request: %w", err)
//	}
//
//	errors.Is(err, registry.ErrManifest) // true
//	errors.Is(err, errdefs.ErrNotFound)  // true when the cause was a 404
//
// Causes record a stack trace the first time they are wrapped. Formatting
// with %+v prints the kind chain followed by that trace.
package fault
