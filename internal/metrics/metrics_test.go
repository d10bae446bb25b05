package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/linnemanlabs-admin/internal/version"
)

// family returns the gathered family called name, or nil.
func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelsOf(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func TestHandler_Scrape(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"http_inflight_requests",
		"http_panic_total",
		"ratelimit_entries",
		"ratelimit_blocks_total",
		"ratelimit_capacity_reached_total",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("scrape missing %s", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHttpPanic()
	if got := value(t, b.panicTotal); got != 0 {
		t.Fatalf("second registry saw %v panics", got)
	}
}

func TestIncAdmission(t *testing.T) {
	m := New()
	m.IncAdmission(true, "")
	m.IncAdmission(true, "")
	m.IncAdmission(false, "minute_limit_exceeded")
	m.IncAdmission(true, "bypass")

	for _, tc := range []struct {
		outcome, reason string
		want            float64
	}{
		{"admitted", "none", 2},
		{"rejected", "minute_limit_exceeded", 1},
		{"admitted", "bypass", 1},
	} {
		if got := value(t, m.decisions.WithLabelValues(tc.outcome, tc.reason)); got != tc.want {
			t.Errorf("decisions{%s,%s} = %v, want %v", tc.outcome, tc.reason, got, tc.want)
		}
	}
}

func TestLimiterMetrics(t *testing.T) {
	m := New()
	m.SetLimiterEntries(42)
	m.IncLimiterBlock()
	m.IncLimiterCapacity()
	m.ObserveSweep(3, 7, 20*time.Millisecond)

	if got := value(t, m.limiterEntries); got != 42 {
		t.Fatalf("entries = %v", got)
	}
	if got := value(t, m.sweepRemoved.WithLabelValues("stale")); got != 3 {
		t.Fatalf("stale removed = %v", got)
	}
	if got := value(t, m.sweepRemoved.WithLabelValues("capacity")); got != 7 {
		t.Fatalf("capacity removed = %v", got)
	}
	if f := family(t, m.reg, "ratelimit_sweep_duration_seconds"); f.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatal("sweep duration not observed")
	}
}

func TestConfigAndEventCounters(t *testing.T) {
	m := New()
	m.IncConfigRefresh(nil)
	m.IncConfigRefresh(errors.New("ssm throttled"))
	m.IncConfigRefresh(errors.New("ssm throttled"))
	m.IncEvent("admission.rejected")
	m.IncEventFailed("kafka")
	m.IncHandlerError("settings.get", "NOT_FOUND")
	m.ObserveHandler("settings.get", 404, time.Millisecond)

	if got := value(t, m.configRefresh.WithLabelValues("error")); got != 2 {
		t.Fatalf("refresh errors = %v", got)
	}
	if got := value(t, m.eventsEmitted.WithLabelValues("admission.rejected")); got != 1 {
		t.Fatalf("events emitted = %v", got)
	}
	if got := value(t, m.eventsFailed.WithLabelValues("kafka")); got != 1 {
		t.Fatalf("events failed = %v", got)
	}
	if got := value(t, m.handlerErrors.WithLabelValues("settings.get", "NOT_FOUND")); got != 1 {
		t.Fatalf("handler errors = %v", got)
	}
	if got := series(m.handlerDuration); got != 1 {
		t.Fatalf("handler duration series = %d", got)
	}
}

func TestSettingsInfo_ReplacesLabel(t *testing.T) {
	m := New()
	m.SetSettingsSource("ssm")
	m.SetSettingsSource("s3")
	m.SetSettingsDocument("aaa")
	m.SetSettingsDocument("bbb")

	src := family(t, m.reg, "settings_source_info")
	if len(src.GetMetric()) != 1 || labelsOf(src.GetMetric()[0])["source"] != "s3" {
		t.Fatalf("settings_source_info = %v", src)
	}
	doc := family(t, m.reg, "settings_document_info")
	if len(doc.GetMetric()) != 1 || labelsOf(doc.GetMetric()[0])["sha256"] != "bbb" {
		t.Fatalf("settings_document_info = %v", doc)
	}

	m.SetSettingsDocument("")
	if series(m.settingsDocument) != 0 {
		t.Fatal("empty digest should clear the series")
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("admin", "server", &version.Info{
		Version:   "1.2.3",
		Commit:    "abc123",
		GoVersion: "go1.24",
		VCSDirty:  &dirty,
	})

	f := family(t, m.reg, "build_info")
	if f == nil {
		t.Fatal("build_info missing")
	}
	got := labelsOf(f.GetMetric()[0])
	for k, want := range map[string]string{"app": "admin", "component": "server", "version": "1.2.3", "commit": "abc123", "vcs_dirty": "true"} {
		if got[k] != want {
			t.Errorf("label %s = %q, want %q", k, got[k], want)
		}
	}

	m2 := New()
	m2.SetBuildInfoFromVersion("admin", "server", &version.Info{})
	if labelsOf(family(t, m2.reg, "build_info").GetMetric()[0])["vcs_dirty"] != "unknown" {
		t.Fatal("nil VCSDirty should render as unknown")
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if value(t, m.profilingActive) != 1 {
		t.Fatal("want 1")
	}
	m.SetProfilingActive(false)
	if value(t, m.profilingActive) != 0 {
		t.Fatal("want 0")
	}
}

// value reads the single sample a counter or gauge collector produces.
func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	var got []float64
	for _, m := range collect(c) {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		switch {
		case pb.Counter != nil:
			got = append(got, pb.GetCounter().GetValue())
		case pb.Gauge != nil:
			got = append(got, pb.GetGauge().GetValue())
		}
	}
	if len(got) != 1 {
		t.Fatalf("collector produced %d samples, want 1", len(got))
	}
	return got[0]
}

// series counts the metrics a collector currently exports.
func series(c prometheus.Collector) int {
	return len(collect(c))
}

func collect(c prometheus.Collector) []prometheus.Metric {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var out []prometheus.Metric
	for m := range ch {
		out = append(out, m)
	}
	return out
}
