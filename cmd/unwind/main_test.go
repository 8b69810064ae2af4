// File: cmd/unwind/main_test.go
// Brief: Tests for the unwind CLI command tree.

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kubekattle/unwind/internal/journal"
)

func writeTestPlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommandExecutesPlan(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	planPath := writeTestPlan(t, `
apiVersion: unwind.dev/v1
kind: Plan
name: smoke
steps:
  - name: workdir
    tempDir: {}
  - name: marker
    file:
      path: ${workdir}/marker.txt
  - name: announce
    command:
      run: sh -c 'cat /dev/null'
`)

	out, err := executeCommand(t,
		"--journal", journalPath,
		"--color", "never",
		"--log-level", "error",
		"run", planPath,
	)
	if err != nil {
		t.Fatalf("run failed: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "Released plan smoke") {
		t.Fatalf("expected release summary, got:\n%s", out)
	}
	if !strings.Contains(out, "ENTRY_PUSHED") || !strings.Contains(out, "workdir") {
		t.Fatalf("expected streamed events, got:\n%s", out)
	}
	if _, err := os.Stat(journalPath); err != nil {
		t.Fatalf("expected journal database: %v", err)
	}
}

func TestEventsCommandReplaysMostRecentRun(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	planPath := writeTestPlan(t, `
apiVersion: unwind.dev/v1
kind: Plan
name: replayed
steps:
  - name: workdir
    tempDir: {}
`)

	if out, err := executeCommand(t, "--journal", journalPath, "--color", "never", "--log-level", "error", "run", planPath); err != nil {
		t.Fatalf("run failed: %v\noutput:\n%s", err, out)
	}

	out, err := executeCommand(t, "--journal", journalPath, "--color", "never", "--log-level", "error", "events", "--verify")
	if err != nil {
		t.Fatalf("events failed: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "PLAN") || !strings.Contains(out, "replayed") {
		t.Fatalf("expected run header, got:\n%s", out)
	}
	if !strings.Contains(out, "ENTRY_PUSHED") || !strings.Contains(out, "STACK_CLOSED") {
		t.Fatalf("expected event rows, got:\n%s", out)
	}
	if !strings.Contains(out, "Verified") {
		t.Fatalf("expected verification summary, got:\n%s", out)
	}
}

func TestEventsCommandEmptyJournal(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	_, err := executeCommand(t, "--journal", journalPath, "--color", "never", "--log-level", "error", "events")
	if !errors.Is(err, journal.ErrNoRuns) {
		t.Fatalf("expected ErrNoRuns, got %v", err)
	}
}

func TestRunsCommandListsJournaledRuns(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	planPath := writeTestPlan(t, `
apiVersion: unwind.dev/v1
kind: Plan
name: listed
steps:
  - name: workdir
    tempDir: {}
`)

	if out, err := executeCommand(t, "--journal", journalPath, "--color", "never", "--log-level", "error", "run", planPath); err != nil {
		t.Fatalf("run failed: %v\noutput:\n%s", err, out)
	}

	out, err := executeCommand(t, "--journal", journalPath, "--color", "never", "--log-level", "error", "runs")
	if err != nil {
		t.Fatalf("runs failed: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "listed") || !strings.Contains(out, "SUCCEEDED") {
		t.Fatalf("expected run row, got:\n%s", out)
	}
}

func TestDocsCommandPrintsTopic(t *testing.T) {
	out, err := executeCommand(t, "docs", "plan-format")
	if err != nil {
		t.Fatalf("docs failed: %v", err)
	}
	if !strings.Contains(out, "apiVersion: unwind.dev/v1") {
		t.Fatalf("expected plan format doc, got:\n%s", out)
	}
}

func TestDocsCommandRejectsUnknownTopic(t *testing.T) {
	_, err := executeCommand(t, "docs", "nope")
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected unknown topic error, got %v", err)
	}
}

func TestVersionCommandShort(t *testing.T) {
	out, err := executeCommand(t, "version", "--short")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out) != "dev" {
		t.Fatalf("expected dev version, got %q", out)
	}
}
