// File: internal/runner/console.go
// Brief: Line-oriented console for scope events.

package runner

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/kubekattle/unwind/pkg/scope"
)

// lockedWriter serializes writes to the shared console destination. The
// event observer and the stdout/stderr pumps of a command step all write to
// the same terminal; without the lock their lines interleave mid-write.
type lockedWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Write(p)
}

// Console prints one line per scope event, color-coded by outcome. Lifecycle
// chatter (unwind start/finish, stack closed) is only shown in verbose mode.
type Console struct {
	out     io.Writer
	verbose bool
}

func NewConsole(out io.Writer, verbose bool) *Console {
	return &Console{out: out, verbose: verbose}
}

func (c *Console) ObserveScopeEvent(ev scope.Event) {
	if c == nil || c.out == nil {
		return
	}
	if !c.verbose {
		switch ev.Type {
		case scope.UnwindStarted, scope.UnwindFinished, scope.StackClosed, scope.CheckpointOpened:
			if ev.Error == "" {
				return
			}
		}
	}
	fmt.Fprintln(c.out, c.line(ev))
}

func (c *Console) line(ev scope.Event) string {
	ts := "--:--:--.---"
	if t, err := time.Parse(time.RFC3339Nano, ev.TS); err == nil {
		ts = t.UTC().Format("15:04:05.000")
	}

	subject := ev.Label
	if subject == "" {
		subject = fmt.Sprintf("entry %d", ev.Index)
	}
	detail := subject
	if ev.Strategy != "" {
		detail = fmt.Sprintf("%s (%s)", subject, ev.Strategy)
	}
	switch ev.Type {
	case scope.UnwindStarted, scope.UnwindFinished, scope.StackClosed:
		detail = ""
	}
	if ev.Error != "" {
		if detail == "" {
			detail = ev.Error
		} else {
			detail = fmt.Sprintf("%s: %s", detail, ev.Error)
		}
	}

	return strings.TrimRight(fmt.Sprintf("%s %s %s",
		color.New(color.FgHiBlack).Sprint(ts),
		eventColor(ev).Sprintf("%-17s", string(ev.Type)),
		detail,
	), " ")
}

func eventColor(ev scope.Event) *color.Color {
	switch ev.Type {
	case scope.EntryPushed:
		return color.New(color.FgGreen)
	case scope.EntryReleased:
		return color.New(color.FgCyan)
	case scope.PushFailed, scope.ReleaseFailed:
		return color.New(color.FgRed, color.Bold)
	case scope.UnwindFinished:
		if ev.Error != "" {
			return color.New(color.FgYellow, color.Bold)
		}
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgHiBlack)
	}
}
