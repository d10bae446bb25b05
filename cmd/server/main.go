package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/linnemanlabs-admin/internal/adminapi"
	"github.com/keithlinneman/linnemanlabs-admin/internal/admission"
	"github.com/keithlinneman/linnemanlabs-admin/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-admin/internal/events"
	"github.com/keithlinneman/linnemanlabs-admin/internal/health"
	"github.com/keithlinneman/linnemanlabs-admin/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-admin/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
	"github.com/keithlinneman/linnemanlabs-admin/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-admin/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-admin/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-admin/internal/prof"
	"github.com/keithlinneman/linnemanlabs-admin/internal/ratelimit"
	v "github.com/keithlinneman/linnemanlabs-admin/internal/version"
	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, release=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.ReleaseId, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf, vi.HasProvenance()); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Component:         "server",
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"release_id", vi.ReleaseId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"settings_backend", conf.SettingsBackend,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"ratelimit_config_ttl", conf.ConfigTTL,
		"ratelimit_sweep_interval", conf.SweepInterval,
		"ratelimit_max_entries", conf.MaxEntries,
		"kafka_enabled", conf.KafkaBrokers != "",
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags:          prof.Tags("server", vi),
		OnActive:      m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure because the collector listens on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// settings backend
	loadAWS := func(ctx context.Context) (aws.Config, error) {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, xerrors.Wrap(err, "load AWS config")
		}
		return awsCfg, nil
	}
	backend, err := openSettings(ctx, L, conf, loadAWS)
	if err != nil {
		L.Error(ctx, err, "failed to open settings backend", "backend", conf.SettingsBackend)
		os.Exit(1)
	}
	defer backend.close()
	m.SetSettingsSource(conf.SettingsBackend)

	loader := ratelimit.NewConfigLoader(backend.source,
		ratelimit.WithTTL(conf.ConfigTTL),
		ratelimit.WithOnRefresh(func(c ratelimit.Config, err error) {
			m.IncConfigRefresh(err)
			if err != nil {
				L.Error(context.Background(), err, "rate limit config refresh failed")
				return
			}
			if backend.digest != nil {
				m.SetSettingsDocument(backend.digest())
			}
			L.Debug(context.Background(), "rate limit config refreshed", "enabled", c.Enabled)
		}),
	)
	// a bad config is not fatal: requests fail with 500 until it is fixed
	if _, err := loader.Get(ctx); err != nil {
		L.Warn(ctx, "initial rate limit config load failed", "error", err)
	}

	store := newStore(ctx, conf, m, L)

	// lifecycle events
	sinks := events.Multi{events.LogSink{Fallback: L}, events.MetricsSink{M: m}}
	var kafkaSink *events.KafkaSink
	if brokers := events.ParseBrokers(conf.KafkaBrokers); len(brokers) > 0 {
		onErr := func(error) { m.IncEventFailed("kafka") }
		w := events.NewKafkaWriter(brokers, conf.KafkaTopic, L, onErr)
		kafkaSink = events.NewKafkaSink(w, events.WithOnError(onErr))
		sinks = append(sinks, kafkaSink)
		L.Info(ctx, "publishing lifecycle events to kafka", "brokers", brokers, "topic", conf.KafkaTopic)
	}

	wrap, err := admission.New(admission.Options{
		Store:  store,
		Config: loader,
		Events: sinks,
		Logger: L,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create admission wrapper")
		os.Exit(1)
	}
	api := adminapi.NewAPI(wrap, backend.source, loader, store, L)

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.WithTimeout(health.CheckFunc(func(ctx context.Context) error {
			_, err := loader.Get(ctx)
			return err
		}), conf.ReadinessCheck),
	)

	apiStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		MaxBodyBytes: conf.MaxBodyBytes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiStop(context.Background()) }()

	// the ops listener rejects public peers itself; the security group should too
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Limiter:      statsHandler(store),
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending traffic
	gate.Set("draining")
	drain := 15 * time.Second
	L.Info(context.Background(), "draining before shutdown", "drain", drain)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drain):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "api http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "ops http server shutdown")
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			L.Error(shutdownCtx, err, "kafka event sink close")
		}
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
}

// statsHandler serves the limiter table summary on the ops listener.
func statsHandler(store *ratelimit.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(store.Stats())
	})
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "dial systemd notify socket")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "write systemd ready")
	}
	return nil
}

// newStore builds the limiter table from conf and reports sweeps, capacity
// and blocks through m and L. Loopback clients always bypass.
func newStore(ctx context.Context, conf cfg.App, m *metrics.ServerMetrics, L log.Logger) *ratelimit.Store {
	return ratelimit.New(ctx,
		ratelimit.WithSweepInterval(conf.SweepInterval),
		ratelimit.WithStaleAfter(conf.StaleAfter),
		ratelimit.WithMaxEntries(conf.MaxEntries),
		ratelimit.WithExtraBypass(cfg.SplitList(conf.BypassClients)...),
		ratelimit.WithOnSweep(func(r ratelimit.SweepResult) {
			m.ObserveSweep(r.Stale, r.Evicted, r.Duration)
			m.SetLimiterEntries(r.Remaining)
			if r.Evicted > 0 {
				L.Warn(context.Background(), "rate limit table over capacity, evicted oldest entries",
					"evicted", r.Evicted,
					"remaining", r.Remaining,
				)
			}
		}),
		ratelimit.WithOnCapacity(func(size int) {
			m.IncLimiterCapacity()
			L.Warn(context.Background(), "rate limit table reached capacity, sweeping early", "size", size)
		}),
		ratelimit.WithOnBlocked(func(clientID string, until time.Time) {
			m.IncLimiterBlock()
			L.Info(context.Background(), "client temporarily blocked", "client_id", clientID, "until", until)
		}),
	)
}
