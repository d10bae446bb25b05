package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-admin/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Limiter serves the limiter table summary at /debug/ratelimit when set.
	Limiter http.Handler

	UseRecoverMW bool
	OnPanic      func()
}
