package events

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
	"github.com/keithlinneman/linnemanlabs-admin/internal/metrics"
)

// LogSink writes each event as a debug record on the context logger, or on
// the fallback logger when the context carries none.
type LogSink struct {
	Fallback log.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) {
	l := log.FromContext(ctx)
	if l == log.Nop() && s.Fallback != nil {
		l = s.Fallback
	}
	kv := []any{
		"event", string(e.Name),
		"event_id", e.ID,
		"client_id", e.ClientID,
		"controller", e.Controller,
	}
	if e.Outcome != "" {
		kv = append(kv, "outcome", string(e.Outcome))
	}
	if e.Reason != "" {
		kv = append(kv, "reason", e.Reason)
	}
	if e.Status != 0 {
		kv = append(kv, "status", e.Status)
	}
	if e.Duration > 0 {
		kv = append(kv, "duration_ms", e.Duration.Milliseconds())
	}
	if e.ResponseSize > 0 {
		kv = append(kv, "response_size", e.ResponseSize)
	}
	if e.ErrorCode != "" {
		kv = append(kv, "error_code", e.ErrorCode)
	}
	l.Debug(ctx, "lifecycle event", kv...)
}

// MetricsSink turns events into Prometheus samples.
type MetricsSink struct {
	M *metrics.ServerMetrics
}

func (s MetricsSink) Emit(_ context.Context, e Event) {
	s.M.IncEvent(string(e.Name))
	switch e.Name {
	case AdmissionChecked, AdmissionRejected:
		s.M.IncAdmission(e.Outcome == OutcomeAdmitted, e.Reason)
	case HandlerFailed:
		s.M.IncHandlerError(e.Controller, e.ErrorCode)
	case ResponseSent:
		s.M.ObserveHandler(e.Controller, e.Status, e.Duration)
	}
}
