// File: cmd/unwind/docs.go
// Brief: CLI command wiring and implementation for 'docs'.

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	unwinddocs "github.com/kubekattle/unwind/docs"
	"github.com/kubekattle/unwind/internal/ui"
)

var docTopics = map[string]string{
	"plan-format": unwinddocs.PlanFormatMD,
	"journal":     unwinddocs.JournalMD,
	"resources":   unwinddocs.ResourcesMD,
}

func newDocsCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:           "docs [topic]",
		Short:         "Print the bundled documentation",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintln(out, "Topics:")
				for _, topic := range docTopicNames() {
					fmt.Fprintf(out, "  %s\n", topic)
				}
				fmt.Fprintln(out, "\nRun 'unwind docs <topic>' to print one.")
				return nil
			}
			topic := strings.ToLower(strings.TrimSpace(args[0]))
			body, ok := docTopics[topic]
			if !ok {
				return fmt.Errorf("unknown topic %q (available: %s)", args[0], strings.Join(docTopicNames(), ", "))
			}
			if raw || !ui.IsTerminal(out) {
				fmt.Fprint(out, body)
				return nil
			}
			fmt.Fprint(out, renderDocTopic(out, body))
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the raw markdown without terminal rendering")
	decorateCommandHelp(cmd, "Docs Flags")
	return cmd
}

// renderDocTopic pretty-prints markdown for terminals, falling back to the
// raw text when the renderer is unavailable.
func renderDocTopic(out io.Writer, body string) string {
	width := 100
	if cols, ok := ui.TerminalWidth(out); ok && cols < width {
		width = cols
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return body
	}
	rendered, err := r.Render(body)
	if err != nil {
		return body
	}
	return rendered
}

func docTopicNames() []string {
	names := make([]string, 0, len(docTopics))
	for name := range docTopics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
