// File: cmd/unwind/runs.go
// Brief: `unwind runs` command wiring.

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kubekattle/unwind/internal/config"
	"github.com/kubekattle/unwind/internal/journal"
	"github.com/kubekattle/unwind/internal/logging"
	"github.com/kubekattle/unwind/internal/ui"
)

func newRunsCommand(global *config.Options) *cobra.Command {
	opts := config.NewRunsOptions()
	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List journaled runs, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd, global, opts)
		},
	}
	opts.BindFlags(cmd.Flags())
	decorateCommandHelp(cmd, "Runs Flags")
	return cmd
}

func listRuns(cmd *cobra.Command, global *config.Options, opts *config.RunsOptions) error {
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

	ctx := cmd.Context()
	store, err := journal.Open(ctx, global.JournalPath, log)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs journaled yet.")
		return nil
	}

	noteWidth := 60
	if cols, ok := ui.TerminalWidth(out); ok && cols > 80 {
		noteWidth = cols - 80
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPLAN\tSTATUS\tUPDATED\tNOTE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.RunID,
			r.Plan,
			formatRunStatus(r.Status),
			formatRunTime(r.UpdatedAt),
			ui.TrimTo(r.Error, noteWidth),
		)
	}
	return tw.Flush()
}

func formatRunStatus(status string) string {
	upper := strings.ToUpper(strings.TrimSpace(status))
	if color.NoColor {
		return upper
	}
	switch upper {
	case "FAILED":
		return color.New(color.FgHiRed).Sprint(upper)
	case "RUNNING":
		return color.New(color.FgYellow).Sprint(upper)
	case "SUCCEEDED":
		return color.New(color.FgGreen).Sprint(upper)
	default:
		return upper
	}
}

func formatRunTime(raw string) string {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
