// Package eventstest provides an in-memory events.Sink for tests.
package eventstest

import (
	"context"
	"sync"

	"github.com/keithlinneman/linnemanlabs-admin/internal/events"
)

// Recorder keeps every event it receives, in order.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

var _ events.Sink = (*Recorder)(nil)

func (r *Recorder) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of what has been recorded.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Names lists the recorded event names, in order.
func (r *Recorder) Names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Name, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}
