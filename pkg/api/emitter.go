package api

import (
	"sync"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// Event is one server-sent event: the SSE event name and its JSON payload.
type Event struct {
	Type    models.EventType
	Payload any
}

// subscriberCap bounds each subscriber's channel; backlogCap bounds the
// per-process replay buffer for late or reconnecting subscribers.
const (
	subscriberCap = 64
	backlogCap    = 256
)

// Emitter fans events out to SSE subscribers. Each process has a replay
// backlog (so events published before the stream attaches are not lost) and
// any number of live subscribers. Under pressure the oldest non-terminal
// events are dropped; terminal events are never dropped, and after one is
// delivered the stream is closed.
type Emitter struct {
	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	backlog []Event
	subs    map[chan Event]struct{}
	done    bool
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{streams: make(map[string]*stream)}
}

// Publish implements pipeline.EventSink.
func (e *Emitter) Publish(processID string, event models.EventType, payload any) {
	ev := Event{Type: event, Payload: payload}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.streams[processID]
	if s == nil {
		s = &stream{subs: make(map[chan Event]struct{})}
		e.streams[processID] = s
	}
	if s.done {
		return
	}

	s.backlog = append(s.backlog, ev)
	if len(s.backlog) > backlogCap {
		s.backlog = dropOldestNonTerminal(s.backlog)
	}

	for ch := range s.subs {
		deliver(ch, ev)
		if event.Terminal() {
			close(ch)
		}
	}
	if event.Terminal() {
		s.subs = make(map[chan Event]struct{})
		s.done = true
	}
}

// Subscribe attaches to a process stream. The backlog is replayed first; if
// the stream already ended, the channel closes right after the replay. The
// returned func detaches.
func (e *Emitter) Subscribe(processID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberCap)

	e.mu.Lock()
	s := e.streams[processID]
	if s == nil {
		s = &stream{subs: make(map[chan Event]struct{})}
		e.streams[processID] = s
	}
	for _, ev := range s.backlog {
		deliver(ch, ev)
	}
	if s.done {
		close(ch)
	} else {
		s.subs[ch] = struct{}{}
	}
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if s, ok := e.streams[processID]; ok {
			if _, subscribed := s.subs[ch]; subscribed {
				delete(s.subs, ch)
				close(ch)
			}
		}
	}
	return ch, cancel
}

// Drop releases a process's stream state once clients no longer need replay.
func (e *Emitter) Drop(processID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.streams[processID]; ok {
		for ch := range s.subs {
			close(ch)
		}
		delete(e.streams, processID)
	}
}

// deliver sends without blocking: when the subscriber is full, the oldest
// queued event is discarded to make room. Terminal events therefore always
// fit.
func deliver(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// dropOldestNonTerminal removes the first droppable event from the backlog.
func dropOldestNonTerminal(backlog []Event) []Event {
	for i, ev := range backlog {
		if !ev.Type.Terminal() {
			return append(backlog[:i], backlog[i+1:]...)
		}
	}
	return backlog
}
