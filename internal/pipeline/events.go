package pipeline

import (
	"context"
	"sync"
	"time"
)

// EventType names a progress event.
type EventType string

const (
	EventStageEntered   EventType = "stage_entered"
	EventStageCompleted EventType = "stage_completed"
	EventStageFailed    EventType = "stage_failed"
	EventClaimProduced  EventType = "claim_produced"
)

// Event is one entry of a run's progress log. Seq starts at 1 and is
// contiguous per run.
type Event struct {
	Seq       int            `json:"seq"`
	RunID     string         `json:"run_id"`
	Type      EventType      `json:"type"`
	Stage     State          `json:"stage"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// eventLog is append-only. Readers hold a cursor (the last Seq they saw)
// and wait on wake for more.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	closed bool
	wake   chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{wake: make(chan struct{})}
}

func (l *eventLog) append(e Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return e
	}
	e.Seq = len(l.events) + 1
	l.events = append(l.events, e)
	close(l.wake)
	l.wake = make(chan struct{})
	return e
}

// close marks the log complete. Later appends are dropped.
func (l *eventLog) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.wake)
}

// since returns events after cursor, whether the log is complete, and a
// channel closed on the next append.
func (l *eventLog) since(cursor int) ([]Event, bool, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	var out []Event
	if cursor < len(l.events) {
		out = append(out, l.events[cursor:]...)
	}
	return out, l.closed, l.wake
}

// stream delivers events after cursor on the returned channel until the log
// closes or ctx ends, then closes the channel.
func (l *eventLog) stream(ctx context.Context, cursor int) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		for {
			evs, closed, wake := l.since(cursor)
			for _, e := range evs {
				select {
				case ch <- e:
					cursor = e.Seq
				case <-ctx.Done():
					return
				}
			}
			if closed && len(evs) == 0 {
				return
			}
			if len(evs) > 0 {
				continue
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
