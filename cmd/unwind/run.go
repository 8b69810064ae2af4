// File: cmd/unwind/run.go
// Brief: CLI command wiring and implementation for 'run'.

package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kubekattle/unwind/internal/config"
	"github.com/kubekattle/unwind/internal/journal"
	"github.com/kubekattle/unwind/internal/logging"
	"github.com/kubekattle/unwind/internal/plan"
	"github.com/kubekattle/unwind/internal/runner"
	"github.com/kubekattle/unwind/internal/ui"
)

func newRunCommand(global *config.Options) *cobra.Command {
	opts := config.NewRunOptions()
	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Acquire a plan's resources, run its commands, and release everything",
		Long: `Executes a plan: each step acquires a resource (temp dir, file, lock,
sqlite handle, listener) or runs a command with everything acquired so far.
When the last step finishes, or any step fails, the held resources are
released in reverse order. The run is journaled unless --no-journal is set.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PlanPath = args[0]
			return runPlan(cmd, global, opts)
		},
	}
	opts.BindFlags(cmd.Flags())
	decorateCommandHelp(cmd, "Run Flags")
	return cmd
}

func runPlan(cmd *cobra.Command, global *config.Options, opts *config.RunOptions) error {
	if err := global.Validate(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	log, err := logging.New(global.LogLevel)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ui.ApplyColorMode(global.ColorMode, out)

	p, err := plan.Load(opts.PlanPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var store *journal.Store
	if !opts.NoJournal {
		store, err = journal.Open(ctx, global.JournalPath, log)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() { _ = store.Close() }()
	}

	console := out
	if opts.Quiet {
		console = nil
	}
	res, runErr := runner.Run(ctx, runner.Options{
		Plan:    p,
		Journal: store,
		Out:     console,
		Verbose: opts.Verbose,
		Log:     log,
	})
	if runErr != nil {
		if res != nil && store != nil {
			fmt.Fprintf(out, "\nRun %s failed. Inspect it with 'unwind events %s --verify'.\n", res.RunID, res.RunID)
		}
		return runErr
	}

	fmt.Fprintf(out, "\n%s plan %s (run %s)\n", color.New(color.FgGreen, color.Bold).Sprint("Released"), p.Name, res.RunID)
	printStepValues(cmd, res)
	if store != nil {
		fmt.Fprintf(out, "Journal: %s ('unwind events %s' replays this run)\n", store.Path(), res.RunID)
	}
	return nil
}

func printStepValues(cmd *cobra.Command, res *runner.Result) {
	if res == nil || len(res.Values) == 0 {
		return
	}
	names := make([]string, 0, len(res.Values))
	for name := range res.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	out := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintf(out, "  %s = %s\n", name, res.Values[name])
	}
}
