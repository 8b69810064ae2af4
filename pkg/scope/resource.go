package scope

import (
	"context"
	"io"
)

// Resource is the full lifecycle capability. Enter produces the value that
// is recorded on the stack; Exit releases it. Exit receives the failure the
// owning scope is propagating, or nil on a clean unwind, so implementations
// can tell rollback paths from commit paths.
type Resource interface {
	Enter(ctx context.Context) (any, error)
	Exit(ctx context.Context, cause error) error
}

// Acquirable is the two-step capability without failure passthrough.
type Acquirable interface {
	Acquire(ctx context.Context) (any, error)
	Release(ctx context.Context) error
}

// Strategy identifies how an entry is released. It is resolved once, when
// the entry is pushed, and never re-inspected afterwards.
type Strategy uint8

const (
	StrategyValue          Strategy = iota // plain value, nothing to release
	StrategyEnterExit                      // Resource
	StrategyAcquireRelease                 // Acquirable
	StrategyCloser                         // io.Closer
	StrategyCallback                       // Defer / OnClose
)

func (s Strategy) String() string {
	switch s {
	case StrategyValue:
		return "value"
	case StrategyEnterExit:
		return "enter-exit"
	case StrategyAcquireRelease:
		return "acquire-release"
	case StrategyCloser:
		return "closer"
	case StrategyCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Named attaches a label to a resource for logging and event reporting.
// Capability detection applies to the wrapped Resource value.
type Named struct {
	Name     string
	Resource any
}

type releaseFunc func(ctx context.Context, cause error) error

type entry struct {
	label    string
	value    any
	strategy Strategy
	release  releaseFunc // nil for plain values
}

// acquireEntry resolves the capability set of res, performs its acquisition
// step, and returns the entry to record. Capabilities are tried in priority
// order: Resource, Acquirable, io.Closer, plain value.
func acquireEntry(ctx context.Context, res any) (entry, error) {
	label := ""
	switch n := res.(type) {
	case Named:
		label, res = n.Name, n.Resource
	case *Named:
		if n != nil {
			label, res = n.Name, n.Resource
		}
	}

	switch r := res.(type) {
	case Resource:
		v, err := r.Enter(ctx)
		if err != nil {
			return entry{label: label}, err
		}
		return entry{label: label, value: v, strategy: StrategyEnterExit, release: r.Exit}, nil
	case Acquirable:
		v, err := r.Acquire(ctx)
		if err != nil {
			return entry{label: label}, err
		}
		return entry{label: label, value: v, strategy: StrategyAcquireRelease, release: func(ctx context.Context, _ error) error {
			return r.Release(ctx)
		}}, nil
	case io.Closer:
		return entry{label: label, value: res, strategy: StrategyCloser, release: func(context.Context, error) error {
			return r.Close()
		}}, nil
	default:
		return entry{label: label, value: res, strategy: StrategyValue}, nil
	}
}
