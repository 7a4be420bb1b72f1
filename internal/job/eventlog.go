package job

import (
	"context"
	"sync"
	"time"
)

// EventLog is a per-job append-only ordered event record. Indices form a
// dense gapless sequence starting at 0. Readers block in Wait and are woken
// on append through a broadcast channel that is closed and replaced on every
// mutation, so no reader ever polls.
type EventLog struct {
	mu       sync.Mutex
	events   []Event
	changed  chan struct{}
	finished bool
}

// NewEventLog returns an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{changed: make(chan struct{})}
}

// Append stamps the event with the next index and the current time, stores
// it and wakes all waiting readers. It returns the assigned index. Appends
// after Finish are ignored and return -1.
func (l *EventLog) Append(ev Event) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finished {
		return -1
	}

	ev.Index = len(l.events)
	ev.Timestamp = time.Now().UTC()
	l.events = append(l.events, ev)
	l.broadcast()
	return ev.Index
}

// Finish appends the end-of-stream event and closes the log. Subsequent
// calls are no-ops, so exactly one end-of-stream event ever exists and it is
// always the last.
func (l *EventLog) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finished {
		return
	}

	l.events = append(l.events, Event{
		Index:     len(l.events),
		Timestamp: time.Now().UTC(),
		Type:      EventEndOfStream,
	})
	l.finished = true
	l.broadcast()
}

// Len returns the number of appended events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Finished reports whether the end-of-stream event has been appended.
func (l *EventLog) Finished() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished
}

// Snapshot returns a copy of all events with index >= from.
func (l *EventLog) Snapshot(from int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyFrom(from)
}

// Wait blocks until at least one event with index >= from exists or the log
// is finished, then returns the available events and the finished flag.
// A cursor past the end of a finished log yields an empty slice and true.
func (l *EventLog) Wait(ctx context.Context, from int) ([]Event, bool, error) {
	if from < 0 {
		from = 0
	}

	l.mu.Lock()
	for len(l.events) <= from && !l.finished {
		ch := l.changed
		l.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		l.mu.Lock()
	}
	evs := l.copyFrom(from)
	finished := l.finished
	l.mu.Unlock()
	return evs, finished, nil
}

func (l *EventLog) copyFrom(from int) []Event {
	if from < 0 {
		from = 0
	}
	if from >= len(l.events) {
		return nil
	}
	out := make([]Event, len(l.events)-from)
	copy(out, l.events[from:])
	return out
}

// caller must hold l.mu
func (l *EventLog) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}
