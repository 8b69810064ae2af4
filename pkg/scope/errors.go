package scope

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed reports a mutation on a stack whose unwind already ran.
	ErrClosed = errors.New("scope: stack closed")

	// ErrOutOfRange reports an index outside the recorded entries.
	ErrOutOfRange = errors.New("scope: index out of range")

	// ErrStaleCheckpoint reports a checkpoint whose range was already torn
	// down by an enclosing unwind. It indicates misnested scopes.
	ErrStaleCheckpoint = errors.New("scope: stale checkpoint")

	// ErrActiveCheckpoint reports an operation that would invalidate a
	// checkpoint still open on the stack.
	ErrActiveCheckpoint = errors.New("scope: checkpoint still open")
)

// Failure records one release action that failed during an unwind.
type Failure struct {
	Index    int
	Label    string
	Strategy Strategy
	Err      error
}

func (f Failure) String() string {
	if f.Label != "" {
		return fmt.Sprintf("%s (entry %d): %v", f.Label, f.Index, f.Err)
	}
	return fmt.Sprintf("entry %d: %v", f.Index, f.Err)
}

// ReleaseError aggregates every release failure from one unwind, ordered by
// release (last pushed first). Cause carries the failure the scope body was
// already propagating when the unwind began; when present it is the primary
// error and the release failures are secondary evidence.
type ReleaseError struct {
	Cause    error
	Failures []Failure
}

func (e *ReleaseError) Error() string {
	var b strings.Builder
	if e.Cause != nil {
		b.WriteString(e.Cause.Error())
		b.WriteString(" (")
	}
	fmt.Fprintf(&b, "%d release failure", len(e.Failures))
	if len(e.Failures) != 1 {
		b.WriteByte('s')
	}
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.String())
	}
	if e.Cause != nil {
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap exposes the cause (when set) and each release failure to errors.Is
// and errors.As.
func (e *ReleaseError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// aggregate folds an unwind outcome into the error the caller sees: the
// untouched cause when every release succeeded, or a ReleaseError carrying
// the ordered failures (and the cause, when one was in flight).
func aggregate(cause error, failures []Failure) error {
	if len(failures) == 0 {
		return cause
	}
	return &ReleaseError{Cause: cause, Failures: failures}
}
