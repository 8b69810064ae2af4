// File: internal/runner/runner.go
// Brief: Plan execution on top of scope stacks.

// Package runner executes plans: each step's resource is pushed onto a scope
// stack, command steps run with every prior resource still held, and the
// stack unwind releases everything in reverse order no matter how the run
// ended. Events are mirrored to the console and the journal.
package runner

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/mattn/go-shellwords"
	"golang.org/x/sync/errgroup"

	"github.com/kubekattle/unwind/internal/journal"
	"github.com/kubekattle/unwind/internal/plan"
	"github.com/kubekattle/unwind/pkg/fsscope"
	"github.com/kubekattle/unwind/pkg/netscope"
	"github.com/kubekattle/unwind/pkg/scope"
	"github.com/kubekattle/unwind/pkg/sqlscope"
)

type Options struct {
	Plan *plan.Plan

	// Journal, when set, records the run and its event chain.
	Journal *journal.Store

	// Out receives console lines. Nil disables the console.
	Out     io.Writer
	Verbose bool

	Log logr.Logger

	// Env is appended to command step environments after the UNWIND_*
	// variables.
	Env []string
}

type Result struct {
	RunID string

	// Values maps step names to what they produced (paths, addresses).
	// Command steps produce nothing and are absent.
	Values map[string]string
}

// Run executes the plan. The returned error is the first step failure; any
// release failures from the unwind are attached to it by the scope stack.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Plan == nil {
		return nil, fmt.Errorf("plan is required")
	}
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	// Sub-second precision avoids collisions when plans re-run quickly.
	runID := time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z")

	var observers []scope.EventObserver
	if opts.Out != nil {
		// One lock covers the observer and the command output pumps.
		opts.Out = &lockedWriter{out: opts.Out}
		observers = append(observers, NewConsole(opts.Out, opts.Verbose))
	}
	if opts.Journal != nil {
		if err := opts.Journal.BeginRun(ctx, runID, opts.Plan.Name); err != nil {
			return nil, err
		}
		observers = append(observers, opts.Journal.Recorder(ctx, runID))
	}

	res := &Result{RunID: runID, Values: map[string]string{}}
	log.Info("run started", "runID", runID, "plan", opts.Plan.Name, "steps", len(opts.Plan.Steps))

	err := scope.WithOptions(ctx, scope.Options{Log: log, Observers: observers}, func(ctx context.Context, s *scope.Stack) error {
		for i := range opts.Plan.Steps {
			step := &opts.Plan.Steps[i]
			if err := runStep(ctx, s, step, res.Values, opts); err != nil {
				return fmt.Errorf("step %s: %w", step.Name, err)
			}
		}
		return nil
	})

	if opts.Journal != nil {
		status := "succeeded"
		errText := ""
		if err != nil {
			status = "failed"
			errText = err.Error()
		}
		if jerr := opts.Journal.FinishRun(ctx, runID, status, errText); jerr != nil {
			log.Error(jerr, "finish journaled run", "runID", runID)
		}
	}
	if err != nil {
		log.Error(err, "run failed", "runID", runID)
		return res, err
	}
	log.Info("run succeeded", "runID", runID)
	return res, nil
}

func runStep(ctx context.Context, s *scope.Stack, step *plan.Step, vars map[string]string, opts Options) error {
	switch step.Kind() {
	case "tempDir":
		dir, err := expandInto(step.TempDir.Dir, vars)
		if err != nil {
			return err
		}
		v, err := s.Push(ctx, scope.Named{Name: step.Name, Resource: &fsscope.TempDir{Dir: dir, Pattern: step.TempDir.Pattern}})
		if err != nil {
			return err
		}
		vars[step.Name] = v.(string)
		return nil

	case "file":
		path, err := expandInto(step.File.Path, vars)
		if err != nil {
			return err
		}
		if _, err := s.Push(ctx, scope.Named{Name: step.Name, Resource: &fsscope.Create{Path: path}}); err != nil {
			return err
		}
		vars[step.Name] = path
		return nil

	case "lock":
		path, err := expandInto(step.Lock.Path, vars)
		if err != nil {
			return err
		}
		if _, err := s.Push(ctx, scope.Named{Name: step.Name, Resource: &fsscope.Lock{Path: path, Timeout: step.Lock.TimeoutDur}}); err != nil {
			return err
		}
		vars[step.Name] = path
		return nil

	case "sqlite":
		path, err := expandInto(step.SQLite.Path, vars)
		if err != nil {
			return err
		}
		v, err := s.Push(ctx, scope.Named{Name: step.Name, Resource: &sqlscope.DB{Driver: "sqlite", DSN: path}})
		if err != nil {
			return err
		}
		db := v.(*sql.DB)
		for k, stmt := range step.SQLite.Init {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("sqlite.init[%d]: %w", k, err)
			}
		}
		vars[step.Name] = path
		return nil

	case "listener":
		addr, err := expandInto(step.Listener.Address, vars)
		if err != nil {
			return err
		}
		v, err := s.Push(ctx, scope.Named{Name: step.Name, Resource: &netscope.Listener{Network: step.Listener.Network, Address: addr}})
		if err != nil {
			return err
		}
		vars[step.Name] = v.(net.Listener).Addr().String()
		return nil

	case "command":
		return runCommand(ctx, step, vars, opts)

	default:
		return fmt.Errorf("unsupported step kind %q", step.Kind())
	}
}

func expandInto(raw string, vars map[string]string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return plan.Expand(raw, vars)
}

// runCommand executes a command step to completion while earlier resources
// are still held. Output is streamed line by line into the run log.
func runCommand(ctx context.Context, step *plan.Step, vars map[string]string, opts Options) error {
	raw, err := expandInto(step.Command.Run, vars)
	if err != nil {
		return err
	}
	argv, err := shellwords.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("command is empty")
	}
	dir, err := expandInto(step.Command.Dir, vars)
	if err != nil {
		return err
	}
	if step.Command.TimeoutDur > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Command.TimeoutDur)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = commandEnv(step, vars, opts.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", argv[0], err)
	}

	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	eg, _ := errgroup.WithContext(ctx)
	eg.Go(func() error { return pumpLines(stdout, step.Name, "stdout", opts.Out, log) })
	eg.Go(func() error { return pumpLines(stderr, step.Name, "stderr", opts.Out, log) })

	pumpErr := eg.Wait()
	waitErr := cmd.Wait()
	if waitErr != nil {
		// A context-killed process reports "signal: killed"; the deadline or
		// cancellation is the real cause.
		if cerr := ctx.Err(); cerr != nil {
			waitErr = cerr
		}
		return fmt.Errorf("%s: %w", strings.Join(argv, " "), waitErr)
	}
	return pumpErr
}

func pumpLines(r io.Reader, stepName, stream string, out io.Writer, log logr.Logger) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if out != nil {
			fmt.Fprintf(out, "  %s │ %s\n", stepName, line)
		}
		log.V(1).Info("command output", "step", stepName, "stream", stream, "line", line)
	}
	return sc.Err()
}

func commandEnv(step *plan.Step, vars map[string]string, extra []string) []string {
	env := append([]string(nil), os.Environ()...)
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, "UNWIND_STEP_"+envKey(name)+"="+vars[name])
	}
	env = append(env, step.Command.Env...)
	env = append(env, extra...)
	return env
}

func envKey(name string) string {
	upper := strings.ToUpper(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, upper)
}
