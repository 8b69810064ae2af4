// File: internal/config/config.go
// Brief: Internal config package implementation for 'config'.

// Package config defines the flag-backed options for unwind's commands and
// the validation that normalizes them before a command runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
)

// DefaultJournalPath is where run journals land unless --journal overrides it.
const DefaultJournalPath = "~/.unwind/journal.db"

const defaultRunsLimit = 20

// Options carries the global settings shared by every unwind command.
type Options struct {
	LogLevel    string
	ColorMode   string
	JournalPath string
}

// NewOptions returns global options with defaults applied.
func NewOptions() *Options {
	return &Options{
		LogLevel:    "info",
		ColorMode:   "auto",
		JournalPath: DefaultJournalPath,
	}
}

// BindFlags registers the global flags on fs and reports the bound names.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level for unwind output (debug, info, warn, error)")
	names = append(names, "log-level")
	fs.StringVar(&o.ColorMode, "color", o.ColorMode, "Colorize console output (auto, always, never)")
	names = append(names, "color")
	fs.StringVar(&o.JournalPath, "journal", o.JournalPath, "Path to the run journal database")
	names = append(names, "journal")
	return names
}

// Validate normalizes the global options and expands the journal path.
func (o *Options) Validate() error {
	o.LogLevel = strings.ToLower(strings.TrimSpace(o.LogLevel))
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	mode := strings.ToLower(strings.TrimSpace(o.ColorMode))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "auto", "always", "never":
		o.ColorMode = mode
	default:
		return fmt.Errorf("invalid color mode %q (expected auto, always, or never)", o.ColorMode)
	}
	path, err := expandPath(o.JournalPath)
	if err != nil {
		return fmt.Errorf("expand journal path: %w", err)
	}
	if path == "" {
		return fmt.Errorf("journal path is empty")
	}
	o.JournalPath = path
	return nil
}

// RunOptions carries the settings for 'unwind run'.
type RunOptions struct {
	PlanPath  string
	Verbose   bool
	Quiet     bool
	NoJournal bool
}

// NewRunOptions returns run options with defaults applied.
func NewRunOptions() *RunOptions {
	return &RunOptions{}
}

// BindFlags registers the run flags on fs and reports the bound names.
func (o *RunOptions) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.BoolVarP(&o.Verbose, "verbose", "v", o.Verbose, "Show every stack event, including unwind lifecycle markers")
	names = append(names, "verbose")
	fs.BoolVarP(&o.Quiet, "quiet", "q", o.Quiet, "Suppress the event console; only the final summary prints")
	names = append(names, "quiet")
	fs.BoolVar(&o.NoJournal, "no-journal", o.NoJournal, "Skip journaling this run")
	names = append(names, "no-journal")
	return names
}

// Validate resolves the plan path taken from the command line.
func (o *RunOptions) Validate() error {
	if o.Quiet && o.Verbose {
		return fmt.Errorf("--quiet and --verbose are mutually exclusive")
	}
	path, err := expandPath(o.PlanPath)
	if err != nil {
		return fmt.Errorf("expand plan path: %w", err)
	}
	if path == "" {
		return fmt.Errorf("plan path is required")
	}
	o.PlanPath = path
	return nil
}

// RunsOptions carries the settings for 'unwind runs'.
type RunsOptions struct {
	Limit int
}

// NewRunsOptions returns listing options with defaults applied.
func NewRunsOptions() *RunsOptions {
	return &RunsOptions{Limit: defaultRunsLimit}
}

// BindFlags registers the listing flags on fs and reports the bound names.
func (o *RunsOptions) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.IntVarP(&o.Limit, "limit", "n", o.Limit, "Maximum number of runs to list")
	names = append(names, "limit")
	return names
}

// Validate rejects limits the journal cannot honor.
func (o *RunsOptions) Validate() error {
	if o.Limit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}
	return nil
}

// EventsOptions carries the settings for 'unwind events'.
type EventsOptions struct {
	RunID  string
	Verify bool
}

// NewEventsOptions returns event options with defaults applied.
func NewEventsOptions() *EventsOptions {
	return &EventsOptions{}
}

// BindFlags registers the event flags on fs and reports the bound names.
func (o *EventsOptions) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.BoolVar(&o.Verify, "verify", o.Verify, "Recompute the event digest chain and compare it to the stored head")
	names = append(names, "verify")
	return names
}

// Validate trims the run id; an empty id means the most recent run.
func (o *EventsOptions) Validate() error {
	o.RunID = strings.TrimSpace(o.RunID)
	return nil
}

func expandPath(raw string) (string, error) {
	path := strings.TrimSpace(os.ExpandEnv(raw))
	if path == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}
