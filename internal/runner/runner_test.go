package runner

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	_ "modernc.org/sqlite"

	"github.com/kubekattle/unwind/internal/journal"
	"github.com/kubekattle/unwind/internal/plan"
	"github.com/kubekattle/unwind/pkg/scope"
)

func loadPlan(t *testing.T, content string) *plan.Plan {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	p, err := plan.Load(path)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	return p
}

func TestRunAcquiresStepsAndReleasesEverything(t *testing.T) {
	p := loadPlan(t, `
name: roundtrip
steps:
  - name: workdir
    tempDir: {}
  - name: report
    file:
      path: ${workdir}/report.txt
  - name: state
    sqlite:
      path: ${workdir}/state.db
  - name: export
    command:
      run: sh -c 'echo done > ${workdir}/done.txt'
`)
	res, err := Run(context.Background(), Options{Plan: p, Log: logr.Discard()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.RunID == "" {
		t.Fatal("run produced no runID")
	}

	dir := res.Values["workdir"]
	if dir == "" {
		t.Fatalf("values = %v, want workdir entry", res.Values)
	}
	if res.Values["report"] != filepath.Join(dir, "report.txt") {
		t.Fatalf("report value = %q, want path under workdir", res.Values["report"])
	}
	if _, ok := res.Values["export"]; ok {
		t.Fatal("command step registered a value")
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workdir survived the unwind: stat = %v", err)
	}
}

func TestRunCommandSeesEarlierStepValues(t *testing.T) {
	out := filepath.Join(t.TempDir(), "seen.txt")
	p := loadPlan(t, `
name: env
steps:
  - name: workdir
    tempDir: {}
  - name: check
    command:
      run: sh -c 'echo "$UNWIND_STEP_WORKDIR" > `+out+`'
`)
	res, err := Run(context.Background(), Options{Plan: p, Log: logr.Discard()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read %s: %v", out, err)
	}
	if got := strings.TrimSpace(string(raw)); got != res.Values["workdir"] {
		t.Fatalf("command saw %q, want %q", got, res.Values["workdir"])
	}
}

func TestRunFailedCommandStillUnwinds(t *testing.T) {
	p := loadPlan(t, `
name: failing
steps:
  - name: workdir
    tempDir: {}
  - name: boom
    command:
      run: sh -c 'exit 7'
`)
	res, err := Run(context.Background(), Options{Plan: p, Log: logr.Discard()})
	if err == nil {
		t.Fatal("run succeeded, want command failure")
	}
	if !strings.Contains(err.Error(), "step boom") {
		t.Fatalf("run = %v, want it to name step boom", err)
	}
	if _, statErr := os.Stat(res.Values["workdir"]); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("workdir survived a failed run: stat = %v", statErr)
	}
}

func TestRunStopsAtUnknownReference(t *testing.T) {
	p := loadPlan(t, `
name: dangling
steps:
  - name: report
    file:
      path: ${workdir}/report.txt
`)
	_, err := Run(context.Background(), Options{Plan: p, Log: logr.Discard()})
	if err == nil {
		t.Fatal("run succeeded, want unknown reference error")
	}
	if !strings.Contains(err.Error(), `"workdir"`) {
		t.Fatalf("run = %v, want it to name the missing reference", err)
	}
}

func TestRunJournalsVerifiableEventChain(t *testing.T) {
	ctx := context.Background()
	store, err := journal.Open(ctx, filepath.Join(t.TempDir(), "journal.db"), logr.Discard())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()

	p := loadPlan(t, `
name: journaled
steps:
  - name: workdir
    tempDir: {}
`)
	res, err := Run(ctx, Options{Plan: p, Journal: store, Log: logr.Discard()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	run, err := store.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != "succeeded" || run.Plan != "journaled" {
		t.Fatalf("run = %+v, want succeeded journaled", run)
	}
	events, err := store.ListEvents(ctx, res.RunID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("run journaled no events")
	}
	if events[0].Event.Type != scope.EntryPushed || events[0].Event.Label != "workdir" {
		t.Fatalf("first event = %+v, want workdir push", events[0].Event)
	}
	if err := store.VerifyRun(ctx, res.RunID); err != nil {
		t.Fatalf("verify run: %v", err)
	}
}

func TestRunRecordsFailedStatus(t *testing.T) {
	ctx := context.Background()
	store, err := journal.Open(ctx, filepath.Join(t.TempDir(), "journal.db"), logr.Discard())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()

	p := loadPlan(t, `
name: journaled-fail
steps:
  - name: boom
    command:
      run: sh -c 'exit 1'
`)
	res, runErr := Run(ctx, Options{Plan: p, Journal: store, Log: logr.Discard()})
	if runErr == nil {
		t.Fatal("run succeeded, want failure")
	}
	run, err := store.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != "failed" {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	if !strings.Contains(run.Error, "step boom") {
		t.Fatalf("journaled error = %q, want step boom", run.Error)
	}
}

func TestRunAppliesSQLiteInitStatements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	p := loadPlan(t, `
name: seeded
steps:
  - name: state
    sqlite:
      path: `+path+`
      init:
        - CREATE TABLE marks (label TEXT NOT NULL)
        - INSERT INTO marks (label) VALUES ('seeded')
`)
	if _, err := Run(context.Background(), Options{Plan: p, Log: logr.Discard()}); err != nil {
		t.Fatalf("run: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen state db: %v", err)
	}
	defer db.Close()
	var label string
	if err := db.QueryRow(`SELECT label FROM marks`).Scan(&label); err != nil {
		t.Fatalf("query seeded table: %v", err)
	}
	if label != "seeded" {
		t.Fatalf("label = %q, want seeded", label)
	}
}

func TestRunCommandTimeoutKillsStep(t *testing.T) {
	p := loadPlan(t, `
name: slowpoke
steps:
  - name: slow
    command:
      run: sleep 5
      timeout: 150ms
`)
	start := time.Now()
	_, err := Run(context.Background(), Options{Plan: p, Log: logr.Discard()})
	if err == nil {
		t.Fatal("run succeeded, want timeout failure")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run = %v, want context.DeadlineExceeded in the chain", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("run took %v, want the timeout to cut it short", elapsed)
	}
}

// overlapWriter counts Write calls that arrive while another is in flight.
type overlapWriter struct {
	buf      bytes.Buffer
	inFlight int32
	overlaps int32
}

func (w *overlapWriter) Write(p []byte) (int, error) {
	if atomic.AddInt32(&w.inFlight, 1) > 1 {
		atomic.AddInt32(&w.overlaps, 1)
	}
	time.Sleep(200 * time.Microsecond)
	n, err := w.buf.Write(p)
	atomic.AddInt32(&w.inFlight, -1)
	return n, err
}

func TestRunCommandStreamsAreSerialized(t *testing.T) {
	out := &overlapWriter{}
	p := loadPlan(t, `
name: chatty
steps:
  - name: talk
    command:
      run: sh -c 'i=0; while [ $i -lt 40 ]; do echo out$i; echo err$i 1>&2; i=$((i+1)); done'
`)
	if _, err := Run(context.Background(), Options{Plan: p, Out: out, Log: logr.Discard()}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := atomic.LoadInt32(&out.overlaps); n != 0 {
		t.Fatalf("%d overlapping console writes, want 0", n)
	}
	// Both streams landed, and every line arrived intact.
	got := out.buf.String()
	for i := 0; i < 40; i++ {
		for _, want := range []string{fmt.Sprintf("talk │ out%d\n", i), fmt.Sprintf("talk │ err%d\n", i)} {
			if !strings.Contains(got, want) {
				t.Fatalf("console output missing intact line %q:\n%s", want, got)
			}
		}
	}
}

func TestRunConsoleShowsPushes(t *testing.T) {
	var buf bytes.Buffer
	p := loadPlan(t, `
name: console
steps:
  - name: workdir
    tempDir: {}
`)
	if _, err := Run(context.Background(), Options{Plan: p, Out: &buf, Log: logr.Discard()}); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "ENTRY_PUSHED") {
		t.Fatalf("console output missing push line:\n%s", out)
	}
	if !strings.Contains(out, "workdir") {
		t.Fatalf("console output missing step name:\n%s", out)
	}
	if !strings.Contains(out, "ENTRY_RELEASED") {
		t.Fatalf("console output missing release line:\n%s", out)
	}
}
