// File: cmd/unwind/events.go
// Brief: `unwind events` command wiring.

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kubekattle/unwind/internal/config"
	"github.com/kubekattle/unwind/internal/journal"
	"github.com/kubekattle/unwind/internal/logging"
	"github.com/kubekattle/unwind/internal/ui"
	"github.com/kubekattle/unwind/pkg/scope"
)

func newEventsCommand(global *config.Options) *cobra.Command {
	opts := config.NewEventsOptions()
	cmd := &cobra.Command{
		Use:   "events [run-id]",
		Short: "Replay a journaled run's event stream",
		Long: `Prints the journaled scope events of a run in chain order. Without a
run id the most recent run is shown. With --verify the per-event digest
chain is recomputed and compared against the stored chain head.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.RunID = args[0]
			}
			return showEvents(cmd, global, opts)
		},
	}
	opts.BindFlags(cmd.Flags())
	decorateCommandHelp(cmd, "Events Flags")
	return cmd
}

func showEvents(cmd *cobra.Command, global *config.Options, opts *config.EventsOptions) error {
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

	runID := opts.RunID
	if runID == "" {
		runID, err = store.MostRecentRunID(ctx)
		if err != nil {
			return err
		}
	}
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	events, err := store.ListEvents(ctx, runID)
	if err != nil {
		return err
	}

	printRunHeader(out, run)
	fmt.Fprintln(out)
	printEventTable(out, events)

	if !opts.Verify {
		return nil
	}
	fmt.Fprintln(out)
	stop := ui.StartSpinner(cmd.ErrOrStderr(), "verifying digest chain")
	verifyErr := store.VerifyRun(ctx, runID)
	stop(verifyErr == nil)
	if verifyErr != nil {
		return verifyErr
	}
	fmt.Fprintf(out, "%s %d events, chain head %s\n",
		color.New(color.FgGreen, color.Bold).Sprint("Verified"),
		len(events),
		shortDigest(lastDigest(events)),
	)
	return nil
}

func printRunHeader(out io.Writer, run *journal.Run) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "RUN\t%s\n", run.RunID)
	fmt.Fprintf(tw, "PLAN\t%s\n", run.Plan)
	fmt.Fprintf(tw, "STATUS\t%s\n", formatRunStatus(run.Status))
	fmt.Fprintf(tw, "CREATED\t%s\n", run.CreatedAt)
	fmt.Fprintf(tw, "UPDATED\t%s\n", run.UpdatedAt)
	if strings.TrimSpace(run.Error) != "" {
		fmt.Fprintf(tw, "ERROR\t%s\n", run.Error)
	}
}

func printEventTable(out io.Writer, events []journal.StoredEvent) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No events journaled for this run.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tENTRY\tDETAIL\tDIGEST")
	for _, se := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			se.Seq,
			formatEventTime(se.Event.TS),
			formatEventType(se.Event.Type),
			entryColumn(se.Event),
			eventDetail(se.Event),
			shortDigest(se.Digest),
		)
	}
	_ = tw.Flush()
}

func formatEventTime(raw string) string {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "-"
	}
	return color.New(color.FgHiBlack).Sprint(ts.UTC().Format("15:04:05.000"))
}

func formatEventType(t scope.EventType) string {
	switch t {
	case scope.PushFailed, scope.ReleaseFailed:
		return color.New(color.FgRed, color.Bold).Sprint(string(t))
	case scope.EntryPushed:
		return color.New(color.FgGreen).Sprint(string(t))
	case scope.EntryReleased:
		return color.New(color.FgCyan).Sprint(string(t))
	default:
		return string(t)
	}
}

func entryColumn(ev scope.Event) string {
	switch ev.Type {
	case scope.EntryPushed, scope.PushFailed, scope.EntryReleased, scope.ReleaseFailed:
		return fmt.Sprintf("%d", ev.Index)
	default:
		return "-"
	}
}

func eventDetail(ev scope.Event) string {
	var parts []string
	if ev.Label != "" {
		parts = append(parts, ev.Label)
	}
	if ev.Strategy != "" {
		parts = append(parts, "("+ev.Strategy+")")
	}
	detail := strings.Join(parts, " ")
	if ev.Error != "" {
		if detail != "" {
			detail += ": "
		}
		detail += ui.TrimTo(ev.Error, 100)
	}
	if detail == "" {
		return "-"
	}
	return detail
}

func shortDigest(digest string) string {
	digest = strings.TrimPrefix(digest, "sha256:")
	if len(digest) > 16 {
		return digest[:16] + "…"
	}
	return digest
}

func lastDigest(events []journal.StoredEvent) string {
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1].Digest
}
