// spinner.go implements the spinner shown while unwind verifies a journal
// digest chain or performs other short foreground work.
package ui

import (
	"fmt"
	"io"
	"time"
)

// StartSpinner animates a lightweight ASCII spinner on w until the returned
// stop function is called. The stop function prints the message followed by
// "[ok]" or "[failed]". When w is not a terminal the animation is skipped
// and only the final status line is written.
func StartSpinner(w io.Writer, message string) func(success bool) {
	if !IsTerminal(w) {
		return func(success bool) {
			fmt.Fprintf(w, "%s %s\n", message, spinnerStatus(success))
		}
	}
	frames := []rune{'|', '/', '-', '\\'}
	done := make(chan struct{})
	erased := make(chan struct{})
	go func() {
		defer close(erased)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		idx := 0
		for {
			select {
			case <-done:
				fmt.Fprintf(w, "\r%s    \r", message)
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %c", message, frames[idx])
				idx = (idx + 1) % len(frames)
			}
		}
	}()
	return func(success bool) {
		select {
		case <-done:
		default:
			close(done)
		}
		<-erased
		fmt.Fprintf(w, "\r%s %s\n", message, spinnerStatus(success))
	}
}

func spinnerStatus(success bool) string {
	if success {
		return "[ok]"
	}
	return "[failed]"
}
