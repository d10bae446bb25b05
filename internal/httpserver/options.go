package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-admin/internal/health"
	"github.com/keithlinneman/linnemanlabs-admin/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
)

type Options struct {
	Logger    log.Logger
	Port      int
	Health    health.Probe
	Readiness health.Probe

	// APIRoutes registers the application routes on the router.
	APIRoutes func(chi.Router)

	MetricsMW    func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// MaxBodyBytes caps request bodies; 0 uses DefaultMaxBodyBytes.
	MaxBodyBytes int64

	UseRecoverMW bool
	OnPanic      func()
}
