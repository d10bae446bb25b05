package admission

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/linnemanlabs-admin/internal/apperr"
	"github.com/keithlinneman/linnemanlabs-admin/internal/events"
	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
	"github.com/keithlinneman/linnemanlabs-admin/internal/ratelimit"
)

// request is the per-call state of one wrapped handler invocation.
type request struct {
	a     *Wrapper
	ctx   context.Context
	l     log.Logger
	start time.Time
	base  events.Event
}

func (q *request) emit(name events.Name, fill func(*events.Event)) {
	e := q.base
	e.Name = name
	e.Duration = q.a.now().Sub(q.start)
	if fill != nil {
		fill(&e)
	}
	q.a.events.Emit(q.ctx, events.Stamp(e))
}

func (q *request) reject(w http.ResponseWriter, d ratelimit.Decision) {
	q.emit(events.AdmissionRejected, func(e *events.Event) {
		e.Outcome = events.OutcomeRejected
		e.Reason = string(d.Reason)
	})
	if d.RetryAfter > 0 {
		secs := int64(math.Ceil(d.RetryAfter.Seconds()))
		w.Header().Set(HeaderRetryAfter, strconv.FormatInt(secs, 10))
	}
	q.a.rejectLog.Do(func() {
		q.l.Warn(q.ctx, "request rejected by rate limiter",
			"client_id", q.base.ClientID,
			"reason", string(d.Reason),
			"retry_after_s", int64(math.Ceil(d.RetryAfter.Seconds())),
		)
	})
	q.respondError(w, rejection(d))
}

// handlerFailed shapes a business error unless the handler already answered.
func (q *request) handlerFailed(tw *trackingWriter, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindInternal {
		q.l.Error(q.ctx, err, "handler failed")
	} else {
		q.l.Debug(q.ctx, "handler returned client error", "code", string(ae.Kind), "error", ae.Error())
	}
	q.emit(events.HandlerFailed, func(e *events.Event) {
		e.Outcome = events.OutcomeError
		e.ErrorCode = string(ae.Kind)
	})
	if tw.wrote() {
		q.sent(tw.status, tw.bytes, events.OutcomeError, string(ae.Kind))
		return
	}
	q.respondError(tw, ae)
}

func (q *request) respondError(w http.ResponseWriter, ae *apperr.Error) {
	status, n := writeJSON(w, ae.Status(), ae.Body())
	outcome := events.OutcomeError
	if ae.Kind == apperr.KindRateLimitExceeded || ae.Kind == apperr.KindTemporarilyBlocked {
		outcome = events.OutcomeRejected
	}
	q.sent(status, n, outcome, string(ae.Kind))
}

func (q *request) sent(status, size int, outcome events.Outcome, code string) {
	q.emit(events.ResponseSent, func(e *events.Event) {
		e.Status = status
		e.ResponseSize = size
		e.Outcome = outcome
		e.ErrorCode = code
	})
}
