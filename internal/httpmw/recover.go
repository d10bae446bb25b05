package httpmw

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/linnemanlabs-admin/internal/apperr"
	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

// Recover turns a panic anywhere below it into a logged 500 with the standard
// error body. onPanic, when set, runs after logging (metrics hook).
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				var err error
				if perr, ok := p.(error); ok {
					err = xerrors.Wrap(perr, "panic")
				} else {
					err = xerrors.Newf("panic: %v", p)
				}

				ctx := r.Context()
				logger.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(ctx),
				).Error(ctx, err, "httpserver panic recovered",
					"panic.stack", string(debug.Stack()),
				)
				if onPanic != nil {
					onPanic()
				}

				body, _ := json.Marshal(apperr.Internal(err).Body())
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write(append(body, '\n'))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
