package scope

import "time"

// EventType enumerates structured stack lifecycle events.
//
// These values are persisted by the journal store and are consumed by the
// run console and `unwind events`.
type EventType string

const (
	EntryPushed EventType = "ENTRY_PUSHED"
	PushFailed  EventType = "PUSH_FAILED"

	CheckpointOpened EventType = "CHECKPOINT_OPENED"

	UnwindStarted  EventType = "UNWIND_STARTED"
	EntryReleased  EventType = "ENTRY_RELEASED"
	ReleaseFailed  EventType = "RELEASE_FAILED"
	UnwindFinished EventType = "UNWIND_FINISHED"

	StackClosed EventType = "STACK_CLOSED"
)

// Event describes one stack transition. TS is RFC3339Nano UTC.
type Event struct {
	TS       string    `json:"ts"`
	Type     EventType `json:"type"`
	Index    int       `json:"index"`
	Strategy string    `json:"strategy,omitempty"`
	Label    string    `json:"label,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type EventObserver interface {
	ObserveScopeEvent(Event)
}

type EventObserverFunc func(Event)

func (f EventObserverFunc) ObserveScopeEvent(ev Event) {
	if f == nil {
		return
	}
	f(ev)
}

func (s *Stack) emit(ev Event) {
	if len(s.observers) == 0 {
		return
	}
	ev.TS = time.Now().UTC().Format(time.RFC3339Nano)
	for _, o := range s.observers {
		if o != nil {
			o.ObserveScopeEvent(ev)
		}
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
