package scope

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
)

// Options configures a Stack. The zero value is usable.
type Options struct {
	// Log receives verbose push/release traces. Defaults to logr.Discard.
	Log logr.Logger

	// Observers receive an Event for every stack transition, synchronously
	// on the mutating goroutine.
	Observers []EventObserver
}

// Stack records acquired resources in push order and releases them in exact
// reverse order on Close. A Stack is owned by a single goroutine and takes
// no locks; sharing one across goroutines is the caller's bug.
type Stack struct {
	entries     []entry
	closed      bool
	checkpoints int
	log         logr.Logger
	observers   []EventObserver
}

func New() *Stack {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Stack {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Stack{log: log, observers: opts.Observers}
}

// Push acquires res according to its capability set and records the result
// at the top of the stack. It returns the value produced by the acquisition
// step; for close-only and plain values that is res itself.
//
// On acquisition failure nothing is recorded and the failure is returned
// unchanged; entries already on the stack stay recorded and will still be
// released by the eventual unwind. Pushing on a closed stack fails with
// ErrClosed before any acquisition side effect.
func (s *Stack) Push(ctx context.Context, res any) (any, error) {
	if s.closed {
		return nil, fmt.Errorf("push: %w", ErrClosed)
	}
	e, err := acquireEntry(ctx, res)
	if err != nil {
		s.emit(Event{Type: PushFailed, Index: len(s.entries), Label: e.label, Error: err.Error()})
		return nil, err
	}
	s.record(e)
	return e.value, nil
}

// Append records res exactly like Push.
func (s *Stack) Append(ctx context.Context, res any) (any, error) {
	return s.Push(ctx, res)
}

// Defer registers fn as a valueless cleanup entry. fn runs in LIFO turn
// with every other entry during unwind.
func (s *Stack) Defer(fn func() error) error {
	if s.closed {
		return fmt.Errorf("defer: %w", ErrClosed)
	}
	if fn == nil {
		return errors.New("defer: nil func")
	}
	s.record(entry{strategy: StrategyCallback, release: func(context.Context, error) error {
		return fn()
	}})
	return nil
}

// OnClose registers a failure-aware cleanup entry: fn receives the error
// the owning scope is propagating, or nil on a clean unwind.
func (s *Stack) OnClose(fn func(ctx context.Context, cause error) error) error {
	if s.closed {
		return fmt.Errorf("on close: %w", ErrClosed)
	}
	if fn == nil {
		return errors.New("on close: nil func")
	}
	s.record(entry{strategy: StrategyCallback, release: fn})
	return nil
}

// Add records an already-open closer and returns it unchanged, preserving
// its concrete type.
func Add[C io.Closer](s *Stack, c C) (C, error) {
	if s.closed {
		var zero C
		return zero, fmt.Errorf("add: %w", ErrClosed)
	}
	s.record(entry{value: c, strategy: StrategyCloser, release: func(context.Context, error) error {
		return c.Close()
	}})
	return c, nil
}

func (s *Stack) record(e entry) {
	s.entries = append(s.entries, e)
	s.emit(Event{Type: EntryPushed, Index: len(s.entries) - 1, Strategy: e.strategy.String(), Label: e.label})
	s.log.V(1).Info("recorded entry", "index", len(s.entries)-1, "strategy", e.strategy.String(), "label", e.label)
}

// Len reports the number of currently recorded entries. Entries released by
// a checkpoint unwind no longer count.
func (s *Stack) Len() int {
	return len(s.entries)
}

// Value returns the recorded value at index i in push order. Values stay
// readable after Close so callers can inspect them post-unwind.
func (s *Stack) Value(i int) (any, error) {
	if i < 0 || i >= len(s.entries) {
		return nil, fmt.Errorf("value %d of %d entries: %w", i, len(s.entries), ErrOutOfRange)
	}
	return s.entries[i].value, nil
}

// Values returns a copy of all recorded values in push order.
func (s *Stack) Values() []any {
	vals := make([]any, len(s.entries))
	for i, e := range s.entries {
		vals[i] = e.value
	}
	return vals
}

// Range returns the recorded values in the half-open interval [i, j).
func (s *Stack) Range(i, j int) ([]any, error) {
	if i < 0 || j < i || j > len(s.entries) {
		return nil, fmt.Errorf("range [%d,%d) of %d entries: %w", i, j, len(s.entries), ErrOutOfRange)
	}
	vals := make([]any, j-i)
	for k := i; k < j; k++ {
		vals[k-i] = s.entries[k].value
	}
	return vals, nil
}

// PopAll transfers every entry to a new stack built with the same options,
// leaving the receiver open and empty. Use it to hand resources to a longer
// lived owner once setup succeeded. While a checkpoint is still open the
// transfer would orphan its range, so PopAll fails with ErrActiveCheckpoint.
func (s *Stack) PopAll() (*Stack, error) {
	if s.closed {
		return nil, fmt.Errorf("pop all: %w", ErrClosed)
	}
	if s.checkpoints > 0 {
		return nil, fmt.Errorf("pop all: %w", ErrActiveCheckpoint)
	}
	out := &Stack{entries: s.entries, log: s.log, observers: s.observers}
	s.entries = nil
	return out, nil
}

// Close releases every recorded entry in reverse push order and closes the
// stack. Closing an already-closed stack releases nothing.
func (s *Stack) Close(ctx context.Context) error {
	return s.CloseWith(ctx, nil)
}

// CloseWith is Close with the owning scope's in-flight failure. cause is
// handed to every enter/exit resource and OnClose handler, and becomes the
// primary error of the aggregate when releases also fail; with a non-nil
// cause and no release failures CloseWith returns cause unchanged.
func (s *Stack) CloseWith(ctx context.Context, cause error) error {
	if s.closed {
		return cause
	}
	s.closed = true
	failures := s.unwind(ctx, 0, cause)
	s.emit(Event{Type: StackClosed, Index: 0})
	return aggregate(cause, failures)
}

// unwind releases entries [base, len) in reverse order, collecting failures
// and never stopping early. A panicking release is captured as a failure so
// deeper entries still run. Entries are left in place; callers decide
// whether to truncate.
func (s *Stack) unwind(ctx context.Context, base int, cause error) []Failure {
	s.emit(Event{Type: UnwindStarted, Index: base, Error: errText(cause)})
	var failures []Failure
	for i := len(s.entries) - 1; i >= base; i-- {
		e := s.entries[i]
		if e.release == nil {
			s.emit(Event{Type: EntryReleased, Index: i, Strategy: e.strategy.String(), Label: e.label})
			continue
		}
		if err := releaseOne(ctx, e, cause); err != nil {
			failures = append(failures, Failure{Index: i, Label: e.label, Strategy: e.strategy, Err: err})
			s.emit(Event{Type: ReleaseFailed, Index: i, Strategy: e.strategy.String(), Label: e.label, Error: err.Error()})
			s.log.Error(err, "release failed", "index", i, "label", e.label)
			continue
		}
		s.emit(Event{Type: EntryReleased, Index: i, Strategy: e.strategy.String(), Label: e.label})
		s.log.V(1).Info("released entry", "index", i, "label", e.label)
	}
	summary := ""
	switch n := len(failures); {
	case n == 1:
		summary = "1 release failure"
	case n > 1:
		summary = fmt.Sprintf("%d release failures", n)
	}
	s.emit(Event{Type: UnwindFinished, Index: base, Error: summary})
	return failures
}

func releaseOne(ctx context.Context, e entry, cause error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("release panicked: %v", r)
		}
	}()
	return e.release(ctx, cause)
}
