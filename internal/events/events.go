// Package events carries request lifecycle milestones out of the admission
// wrapper. Emitting is fire and forget: a Sink never fails the request that
// produced the event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Name string

const (
	AdmissionChecked  Name = "admission.checked"
	AdmissionRejected Name = "admission.rejected"
	RequestReceived   Name = "request.received"
	HandlerStarted    Name = "handler.started"
	HandlerCompleted  Name = "handler.completed"
	HandlerFailed     Name = "handler.failed"
	ResponseSent      Name = "response.sent"
)

type Outcome string

const (
	OutcomeAdmitted Outcome = "admitted"
	OutcomeRejected Outcome = "rejected"
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
)

// Event is one milestone of one request.
type Event struct {
	ID         string    `json:"id"`
	Name       Name      `json:"name"`
	Time       time.Time `json:"time"`
	ClientID   string    `json:"clientId"`
	Controller string    `json:"controller"`
	RequestID  string    `json:"requestId,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`

	Status       int           `json:"status,omitempty"`
	Duration     time.Duration `json:"-"`
	ResponseSize int           `json:"responseSize,omitempty"`
	Outcome      Outcome       `json:"outcome,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	ErrorCode    string        `json:"errorCode,omitempty"`
}

// MarshalJSON adds durationMs alongside the other fields.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		DurationMS float64 `json:"durationMs"`
	}{plain(e), float64(e.Duration) / float64(time.Millisecond)})
}

// Stamp fills ID and Time when they are unset.
func Stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}

type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

type nop struct{}

func (nop) Emit(context.Context, Event) {}

func Nop() Sink { return nop{} }
