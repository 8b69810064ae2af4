package scope

import (
	"context"
	"fmt"
)

// With runs fn with a fresh Stack and unwinds it on every exit path:
// normal return, error return, and panic. A body error becomes the cause
// handed to CloseWith; on panic the stack unwinds with a synthesized cause
// and the panic resumes.
func With(ctx context.Context, fn func(ctx context.Context, s *Stack) error) error {
	return WithOptions(ctx, Options{}, fn)
}

// WithOptions is With on a stack built from opts.
func WithOptions(ctx context.Context, opts Options, fn func(ctx context.Context, s *Stack) error) (err error) {
	s := NewWithOptions(opts)
	defer func() {
		if r := recover(); r != nil {
			_ = s.CloseWith(ctx, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		err = s.CloseWith(ctx, err)
	}()
	return fn(ctx, s)
}

// Nest runs fn inside a nested scope bounded by a fresh checkpoint and
// closes it on every exit path, mirroring With. fn receives the same stack;
// entries it pushes are released when Nest returns, entries pushed before
// stay put.
func (s *Stack) Nest(ctx context.Context, fn func(ctx context.Context, s *Stack) error) (err error) {
	cp, err := s.Checkpoint()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = cp.CloseWith(ctx, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		err = cp.CloseWith(ctx, err)
	}()
	return fn(ctx, s)
}
