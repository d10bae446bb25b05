// Package metrics owns the process Prometheus registry: HTTP server metrics
// with bounded labels, build info, and the admission, limiter, settings and
// event counters the rest of the service reports into.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-admin/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight    prometheus.Gauge
	reqTotal    *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	respBytes   *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	panicTotal  prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// admission
	decisions       *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec

	// limiter store
	limiterEntries  prometheus.Gauge
	limiterBlocks   prometheus.Counter
	limiterCapacity prometheus.Counter
	sweepRemoved    *prometheus.CounterVec
	sweepDuration   prometheus.Histogram

	// settings
	configRefresh    *prometheus.CounterVec
	settingsSource   *prometheus.GaugeVec
	settingsDocument *prometheus.GaugeVec

	// events
	eventsEmitted *prometheus.CounterVec
	eventsFailed  *prometheus.CounterVec
}

// New returns a fresh registry with the Go and process collectors and every
// service metric registered. Labels are limited to bounded values.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Admission decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_handler_errors_total",
			Help: "Business handler failures by controller and error code",
		}, []string{"controller", "code"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admission_handler_duration_seconds",
			Help:    "Time from admission to response by controller and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"controller", "status"}),
		limiterEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_entries",
			Help: "Client entries held by the rate limiter",
		}),
		limiterBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_blocks_total",
			Help: "Temporary client blocks started",
		}),
		limiterCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_capacity_reached_total",
			Help: "Times the rate limiter table grew past its ceiling",
		}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_sweep_removed_total",
			Help: "Entries removed by the sweeper, by cause (stale, capacity)",
		}, []string{"cause"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratelimit_sweep_duration_seconds",
			Help:    "Duration of rate limiter sweeps",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		configRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_config_refresh_total",
			Help: "Rate limit config reloads by result (ok, error)",
		}, []string{"result"}),
		settingsSource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settings_source_info",
			Help: "Active settings backend (label carries value, gauge is always 1)",
		}, []string{"source"}),
		settingsDocument: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settings_document_info",
			Help: "Digest of the loaded settings document (value is always 1)",
		}, []string{"sha256"}),
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_emitted_total",
			Help: "Lifecycle events emitted by name",
		}, []string{"name"}),
		eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_failed_total",
			Help: "Lifecycle events a sink failed to deliver",
		}, []string{"sink"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.panicTotal,
		m.buildInfo,
		m.profilingActive,
		m.decisions,
		m.handlerErrors,
		m.handlerDuration,
		m.limiterEntries,
		m.limiterBlocks,
		m.limiterCapacity,
		m.sweepRemoved,
		m.sweepDuration,
		m.configRefresh,
		m.settingsSource,
		m.settingsDocument,
		m.eventsEmitted,
		m.eventsFailed,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() {
	m.panicTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolValue(active))
}

// IncAdmission counts one decision. reason is empty for plain admits.
func (m *ServerMetrics) IncAdmission(allowed bool, reason string) {
	outcome := "rejected"
	if allowed {
		outcome = "admitted"
	}
	if reason == "" {
		reason = "none"
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
}

func (m *ServerMetrics) IncHandlerError(controller, code string) {
	m.handlerErrors.WithLabelValues(controller, code).Inc()
}

func (m *ServerMetrics) ObserveHandler(controller string, status int, d time.Duration) {
	m.handlerDuration.WithLabelValues(controller, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *ServerMetrics) SetLimiterEntries(n int) {
	m.limiterEntries.Set(float64(n))
}

func (m *ServerMetrics) IncLimiterBlock() {
	m.limiterBlocks.Inc()
}

func (m *ServerMetrics) IncLimiterCapacity() {
	m.limiterCapacity.Inc()
}

// ObserveSweep records one sweep's removals and how long it took.
func (m *ServerMetrics) ObserveSweep(stale, evicted int, d time.Duration) {
	m.sweepRemoved.WithLabelValues("stale").Add(float64(stale))
	m.sweepRemoved.WithLabelValues("capacity").Add(float64(evicted))
	m.sweepDuration.Observe(d.Seconds())
}

func (m *ServerMetrics) IncConfigRefresh(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.configRefresh.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) SetSettingsSource(source string) {
	m.settingsSource.Reset()
	m.settingsSource.WithLabelValues(source).Set(1)
}

func (m *ServerMetrics) SetSettingsDocument(sha256 string) {
	m.settingsDocument.Reset()
	if sha256 != "" {
		m.settingsDocument.WithLabelValues(sha256).Set(1)
	}
}

func (m *ServerMetrics) IncEvent(name string) {
	m.eventsEmitted.WithLabelValues(name).Inc()
}

func (m *ServerMetrics) IncEventFailed(sink string) {
	m.eventsFailed.WithLabelValues(sink).Inc()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
