package scope

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func collectEvents() (*[]Event, Options) {
	events := &[]Event{}
	opts := Options{Observers: []EventObserver{EventObserverFunc(func(ev Event) {
		*events = append(*events, ev)
	})}}
	return events, opts
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestEventSequenceForPushAndClose(t *testing.T) {
	events, opts := collectEvents()
	log := &releaseLog{}
	s := NewWithOptions(opts)
	mustPush(t, s, Named{Name: "db", Resource: &fakeResource{name: "A", log: log}})
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []EventType{EntryPushed, UnwindStarted, EntryReleased, UnwindFinished, StackClosed}
	if got := eventTypes(*events); !reflect.DeepEqual(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if (*events)[0].Label != "db" {
		t.Fatalf("push label = %q, want db", (*events)[0].Label)
	}
	if (*events)[0].Strategy != "enter-exit" {
		t.Fatalf("push strategy = %q, want enter-exit", (*events)[0].Strategy)
	}
	for _, ev := range *events {
		if ev.TS == "" {
			t.Fatalf("event %s has no timestamp", ev.Type)
		}
	}
}

func TestPushFailedEvent(t *testing.T) {
	events, opts := collectEvents()
	boom := errors.New("no such device")
	s := NewWithOptions(opts)
	if _, err := s.Push(context.Background(), Named{Name: "dev", Resource: &fakeResource{name: "A", log: &releaseLog{}, enterErr: boom}}); err == nil {
		t.Fatal("push: expected error")
	}

	if got := eventTypes(*events); !reflect.DeepEqual(got, []EventType{PushFailed}) {
		t.Fatalf("event types = %v, want [PUSH_FAILED]", got)
	}
	ev := (*events)[0]
	if ev.Label != "dev" || ev.Error != "no such device" || ev.Index != 0 {
		t.Fatalf("push failed event = %+v", ev)
	}
	_ = s.Close(context.Background())
}

func TestReleaseFailedEvent(t *testing.T) {
	events, opts := collectEvents()
	log := &releaseLog{}
	s := NewWithOptions(opts)
	mustPush(t, s, &fakeResource{name: "A", log: log})
	mustPush(t, s, &fakeResource{name: "B", log: log, exitErr: errors.New("flush failed")})
	_ = s.Close(context.Background())

	want := []EventType{EntryPushed, EntryPushed, UnwindStarted, ReleaseFailed, EntryReleased, UnwindFinished, StackClosed}
	if got := eventTypes(*events); !reflect.DeepEqual(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for _, ev := range *events {
		if ev.Type == ReleaseFailed {
			if ev.Index != 1 || ev.Error != "flush failed" {
				t.Fatalf("release failed event = %+v", ev)
			}
		}
		if ev.Type == UnwindFinished && ev.Error != "1 release failure" {
			t.Fatalf("unwind finished summary = %q", ev.Error)
		}
	}
}

func TestCheckpointEvents(t *testing.T) {
	events, opts := collectEvents()
	log := &releaseLog{}
	s := NewWithOptions(opts)
	mustPush(t, s, &fakeResource{name: "A", log: log})
	cp, err := s.Checkpoint()
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	mustPush(t, s, &fakeResource{name: "B", log: log})
	if err := cp.Close(context.Background()); err != nil {
		t.Fatalf("checkpoint close: %v", err)
	}

	want := []EventType{EntryPushed, CheckpointOpened, EntryPushed, UnwindStarted, EntryReleased, UnwindFinished}
	if got := eventTypes(*events); !reflect.DeepEqual(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	_ = s.Close(context.Background())
}

func TestNilObserverFuncTolerated(t *testing.T) {
	var f EventObserverFunc
	f.ObserveScopeEvent(Event{Type: EntryPushed}) // must not panic

	s := NewWithOptions(Options{Observers: []EventObserver{nil, f}})
	mustPush(t, s, "x")
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}
