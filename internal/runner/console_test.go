package runner

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/kubekattle/unwind/pkg/scope"
)

func TestConsoleLineFormatsEvent(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	c := NewConsole(nil, false)
	got := c.line(scope.Event{
		TS:       "2026-08-21T10:42:01.123456789Z",
		Type:     scope.EntryPushed,
		Index:    2,
		Strategy: "enter-exit",
		Label:    "db",
	})
	if !strings.HasPrefix(got, "10:42:01.123 ") {
		t.Fatalf("line = %q, want UTC timestamp prefix", got)
	}
	if !strings.Contains(got, "ENTRY_PUSHED") || !strings.Contains(got, "db (enter-exit)") {
		t.Fatalf("line = %q, want type and labeled strategy", got)
	}
}

func TestConsoleLineNamesUnlabeledEntries(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	c := NewConsole(nil, false)
	got := c.line(scope.Event{Type: scope.ReleaseFailed, Index: 3, Strategy: "closer", Error: "boom"})
	if !strings.Contains(got, "entry 3 (closer): boom") {
		t.Fatalf("line = %q, want positional name and error", got)
	}
}

func TestConsoleQuietModeSkipsLifecycleChatter(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	c := NewConsole(&buf, false)
	c.ObserveScopeEvent(scope.Event{TS: "2026-08-21T10:00:00Z", Type: scope.UnwindStarted, Index: 1})
	c.ObserveScopeEvent(scope.Event{TS: "2026-08-21T10:00:00Z", Type: scope.StackClosed})
	if buf.Len() != 0 {
		t.Fatalf("quiet console printed:\n%s", buf.String())
	}

	c.ObserveScopeEvent(scope.Event{TS: "2026-08-21T10:00:00Z", Type: scope.UnwindFinished, Error: "1 release failure"})
	if !strings.Contains(buf.String(), "1 release failure") {
		t.Fatalf("quiet console dropped a failing unwind summary:\n%s", buf.String())
	}
}

func TestConsoleColorsFailures(t *testing.T) {
	if os.Getenv("NO_COLOR") != "" {
		t.Skip("NO_COLOR set; skip ANSI assertions")
	}
	prev := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = prev })

	c := NewConsole(nil, false)
	got := c.line(scope.Event{TS: "2026-08-21T10:00:00Z", Type: scope.ReleaseFailed, Index: 0, Error: "boom"})
	if !strings.Contains(got, "\x1b[") {
		t.Fatalf("line = %q, want ANSI styling", got)
	}
}
