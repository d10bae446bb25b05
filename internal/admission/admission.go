// Package admission wraps business handlers with rate limit admission,
// response envelopes and error shaping, emitting a lifecycle event for each
// milestone of the request.
package admission

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-admin/internal/apperr"
	"github.com/keithlinneman/linnemanlabs-admin/internal/events"
	"github.com/keithlinneman/linnemanlabs-admin/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
	"github.com/keithlinneman/linnemanlabs-admin/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Func is business logic. A non-nil result is sent inside the success
// envelope unless the function already wrote to w.
type Func func(w http.ResponseWriter, r *http.Request) (any, error)

// ConfigResolver returns the active limiter config. *ratelimit.ConfigLoader
// implements it.
type ConfigResolver interface {
	Get(ctx context.Context) (ratelimit.Config, error)
}

// Limiter decides admission. *ratelimit.Store implements it.
type Limiter interface {
	CheckAdmission(clientID string, cfg ratelimit.Config) (ratelimit.Decision, error)
}

type Options struct {
	Store  Limiter
	Config ConfigResolver

	// Events receives lifecycle events; nil discards them.
	Events events.Sink

	// Logger is used when the request context carries no logger.
	Logger log.Logger

	// ClientID identifies the caller; defaults to the address stored by
	// httpmw.ClientIP.
	ClientID func(*http.Request) string

	// Now is the clock used for durations.
	Now func() time.Time
}

// Wrapper applies admission to handlers built with Handle.
type Wrapper struct {
	store    Limiter
	config   ConfigResolver
	events   events.Sink
	logger   log.Logger
	clientID func(*http.Request) string
	now      func() time.Time

	// rejections are expected; keep a flood from one client out of the logs
	rejectLog rate.Sometimes
}

// New validates opts and returns a Wrapper.
func New(opts Options) (*Wrapper, error) {
	if opts.Store == nil {
		return nil, xerrors.New("admission: store is required")
	}
	if opts.Config == nil {
		return nil, xerrors.New("admission: config resolver is required")
	}
	w := &Wrapper{
		store:     opts.Store,
		config:    opts.Config,
		events:    opts.Events,
		logger:    opts.Logger,
		clientID:  opts.ClientID,
		now:       opts.Now,
		rejectLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	if w.events == nil {
		w.events = events.Nop()
	}
	if w.logger == nil {
		w.logger = log.Nop()
	}
	if w.clientID == nil {
		w.clientID = defaultClientID
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

func defaultClientID(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// Handle returns fn wrapped with admission. name labels events, logs and
// metrics for this handler.
func (a *Wrapper) Handle(name string, fn Func) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req := &request{
			a:     a,
			ctx:   ctx,
			l:     a.loggerFor(ctx).With("controller", name),
			start: a.now(),
			base: events.Event{
				ClientID:   a.clientID(r),
				Controller: name,
				RequestID:  httpmw.RequestIDFromContext(ctx),
				Method:     r.Method,
				Path:       r.URL.Path,
			},
		}
		req.emit(events.RequestReceived, nil)

		cfg, err := a.config.Get(ctx)
		if err != nil {
			req.l.Error(ctx, err, "rate limit config unavailable")
			req.respondError(w, apperr.Internal(err))
			return
		}

		d, err := a.store.CheckAdmission(req.base.ClientID, cfg)
		if err != nil {
			req.l.Error(ctx, err, "admission check failed")
			req.respondError(w, apperr.Internal(err))
			return
		}
		setQuotaHeaders(w.Header(), d)

		if !d.Allowed {
			req.reject(w, d)
			return
		}
		req.emit(events.AdmissionChecked, func(e *events.Event) {
			e.Outcome = events.OutcomeAdmitted
			e.Reason = string(d.Reason)
		})

		tw := &trackingWriter{ResponseWriter: w}
		req.emit(events.HandlerStarted, nil)
		result, err := invoke(fn, tw, r)
		if err != nil {
			req.handlerFailed(tw, err)
			return
		}
		req.emit(events.HandlerCompleted, func(e *events.Event) {
			e.Outcome = events.OutcomeSuccess
		})

		if tw.wrote() {
			req.sent(tw.status, tw.bytes, events.OutcomeSuccess, "")
			return
		}
		status, n := writeJSON(tw, http.StatusOK, envelope{Success: true, Data: result})
		if status != http.StatusOK {
			req.l.Error(ctx, xerrors.New("result not encodable"), "handler result dropped")
			req.sent(status, n, events.OutcomeError, string(apperr.KindInternal))
			return
		}
		req.sent(status, n, events.OutcomeSuccess, "")
	})
}

func (a *Wrapper) loggerFor(ctx context.Context) log.Logger {
	if l := log.FromContext(ctx); l != log.Nop() {
		return l
	}
	return a.logger
}

// invoke runs fn, turning a panic into an error so it is shaped like any
// other failure.
func invoke(fn Func, w http.ResponseWriter, r *http.Request) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			if perr, ok := p.(error); ok {
				err = xerrors.Wrap(perr, "handler panic")
				return
			}
			err = xerrors.Newf("handler panic: %v", p)
		}
	}()
	return fn(w, r)
}

// setQuotaHeaders describes the client's quota. Decisions that never reached
// the counter table carry no quota.
func setQuotaHeaders(h http.Header, d ratelimit.Decision) {
	if !d.Limited() {
		return
	}
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// rejection maps a refused decision to its client error.
func rejection(d ratelimit.Decision) *apperr.Error {
	if d.Reason == ratelimit.ReasonBlocked {
		return apperr.Blocked("Too many requests, temporarily blocked", d.RetryAfter)
	}
	return apperr.RateLimited("Rate limit exceeded, please try again later", d.RetryAfter)
}

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// writeJSON encodes v and reports the status sent and how many body bytes
// reached the client.
func writeJSON(w http.ResponseWriter, status int, v any) (int, int) {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(apperr.Internal(err).Body())
		status = http.StatusInternalServerError
	}
	b = append(b, '\n')
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	n, _ := w.Write(b)
	return status, n
}
