package scope

import (
	"context"
	"fmt"
)

// Checkpoint bounds a nested scope on an existing Stack. Entries pushed
// after the checkpoint belong to the nested scope and are released when the
// checkpoint closes; earlier entries stay with the outer scope, untouched
// and open.
type Checkpoint struct {
	stack *Stack
	base  int
	done  bool
}

// Checkpoint opens a nested scope at the current stack top. Any number of
// checkpoints may be taken sequentially; they must close in reverse order
// of opening.
func (s *Stack) Checkpoint() (*Checkpoint, error) {
	if s.closed {
		return nil, fmt.Errorf("checkpoint: %w", ErrClosed)
	}
	s.checkpoints++
	s.emit(Event{Type: CheckpointOpened, Index: len(s.entries)})
	return &Checkpoint{stack: s, base: len(s.entries)}, nil
}

// Index reports the checkpoint's base position in the stack.
func (c *Checkpoint) Index() int {
	return c.base
}

// Close releases the nested range in reverse push order. Closing the same
// checkpoint again releases nothing, as does closing after the stack itself
// closed (the owner's unwind already covered the range).
func (c *Checkpoint) Close(ctx context.Context) error {
	return c.CloseWith(ctx, nil)
}

// CloseWith is Close with the nested scope's in-flight failure, mirroring
// Stack.CloseWith. Closing a checkpoint whose range was torn down by an
// earlier-opened checkpoint fails with ErrStaleCheckpoint.
func (c *Checkpoint) CloseWith(ctx context.Context, cause error) error {
	if c.done {
		return cause
	}
	if c.stack.closed {
		c.done = true
		c.stack.checkpoints--
		return cause
	}
	if c.base > len(c.stack.entries) {
		return fmt.Errorf("checkpoint at %d of %d entries: %w", c.base, len(c.stack.entries), ErrStaleCheckpoint)
	}
	c.done = true
	c.stack.checkpoints--
	failures := c.stack.unwind(ctx, c.base, cause)
	c.stack.entries = c.stack.entries[:c.base]
	return aggregate(cause, failures)
}
