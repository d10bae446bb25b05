// Package cfg holds process configuration. Every flag can also be set from
// the environment: flag "foo-bar" reads EnvPrefix+"FOO_BAR".
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
)

// EnvPrefix is prepended to environment variable names.
const EnvPrefix = "LMADMIN_"

// Settings backends.
const (
	BackendStatic   = "static"
	BackendSSM      = "ssm"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort         int
	AdminPort        int
	TrustedProxyHops int
	MaxBodyBytes     int64

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	SettingsBackend       string
	SettingsFile          string
	SSMPrefix             string
	SettingsS3Bucket      string
	SettingsS3Key         string
	SettingsSigningKeyARN string
	DatabaseDSN           string

	ConfigTTL      time.Duration
	SweepInterval  time.Duration
	StaleAfter     time.Duration
	MaxEntries     int
	BypassClients  string
	KafkaBrokers   string
	KafkaTopic     string
	ReadinessCheck time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops listen TCP port for metrics, probes and pprof (1..65535)")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 1, "reverse proxies in front of the API whose X-Forwarded-For entries are trusted (0..8)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 64<<10, "request body limit in bytes")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.SettingsBackend, "settings-backend", BackendStatic, "where settings are read from: static|ssm|s3|postgres")
	fs.StringVar(&c.SettingsFile, "settings-file", "", "JSON settings document for the static backend (empty uses built-in defaults)")
	fs.StringVar(&c.SSMPrefix, "ssm-prefix", "/app/linnemanlabs-admin/settings", "SSM parameter path prefix; settings live at {prefix}/{category}/{key}")
	fs.StringVar(&c.SettingsS3Bucket, "settings-s3-bucket", "", "s3 bucket holding the settings document")
	fs.StringVar(&c.SettingsS3Key, "settings-s3-key", "apps/linnemanlabs-admin/settings.json", "s3 key of the settings document")
	fs.StringVar(&c.SettingsSigningKeyARN, "settings-signing-key-arn", "", "KMS key ARN for settings document signature verification")
	fs.StringVar(&c.DatabaseDSN, "database-dsn", "", "postgres connection string for the postgres backend")

	fs.DurationVar(&c.ConfigTTL, "ratelimit-config-ttl", 5*time.Minute, "how long resolved rate limit settings are cached")
	fs.DurationVar(&c.SweepInterval, "ratelimit-sweep-interval", time.Hour, "how often idle limiter entries are swept")
	fs.DurationVar(&c.StaleAfter, "ratelimit-stale-after", time.Hour, "idle time after which a limiter entry is dropped")
	fs.IntVar(&c.MaxEntries, "ratelimit-max-entries", 500_000, "limiter table ceiling before oldest entries are evicted")
	fs.StringVar(&c.BypassClients, "ratelimit-bypass", "127.0.0.1,::1,localhost", "comma separated client ids that are never limited; loopback is always included")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma separated kafka brokers for lifecycle events (empty disables)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "admission-events", "kafka topic for lifecycle events")
	fs.DurationVar(&c.ReadinessCheck, "readiness-timeout", 2*time.Second, "time allowed for the settings backend readiness check")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvName(prefix, f.Name)
		envVal, ok := os.LookupEnv(key)
		switch {
		case !ok:
			return
		case explicit[f.Name]:
			logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
		}
	})
}

// EnvName maps flag "foo-bar" to prefix+"FOO_BAR".
func EnvName(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// SplitList splits a comma separated flag value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
// Release builds must verify a settings document read from S3.
func Validate(c App, release bool) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 8 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_PROXY_HOPS %d (must be 0..8)", c.TrustedProxyHops))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be positive)", c.MaxBodyBytes))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Tracing and profiling
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Settings backend
	switch c.SettingsBackend {
	case BackendStatic:
		if release && c.SettingsFile == "" {
			errs = append(errs, fmt.Errorf("SETTINGS_FILE is required for the static backend in release builds"))
		}
	case BackendSSM:
		if !strings.HasPrefix(c.SSMPrefix, "/") {
			errs = append(errs, fmt.Errorf("SSM_PREFIX must start with / (got %q)", c.SSMPrefix))
		}
	case BackendS3:
		if c.SettingsS3Bucket == "" {
			errs = append(errs, fmt.Errorf("SETTINGS_S3_BUCKET is required when SETTINGS_BACKEND=s3"))
		}
		if c.SettingsS3Key == "" {
			errs = append(errs, fmt.Errorf("SETTINGS_S3_KEY is required when SETTINGS_BACKEND=s3"))
		}
		if release && c.SettingsSigningKeyARN == "" {
			errs = append(errs, fmt.Errorf("release build requires SETTINGS_SIGNING_KEY_ARN for the s3 backend"))
		}
	case BackendPostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, fmt.Errorf("DATABASE_DSN is required when SETTINGS_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid SETTINGS_BACKEND %q (static|ssm|s3|postgres)", c.SettingsBackend))
	}

	// Limiter
	if c.ConfigTTL < time.Second {
		errs = append(errs, fmt.Errorf("RATELIMIT_CONFIG_TTL must be at least 1s (got %s)", c.ConfigTTL))
	}
	if c.SweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("RATELIMIT_SWEEP_INTERVAL must be at least 1s (got %s)", c.SweepInterval))
	}
	if c.StaleAfter < time.Minute {
		errs = append(errs, fmt.Errorf("RATELIMIT_STALE_AFTER must be at least 1m (got %s)", c.StaleAfter))
	}
	if c.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_MAX_ENTRIES must be positive (got %d)", c.MaxEntries))
	}
	if c.ReadinessCheck <= 0 {
		errs = append(errs, fmt.Errorf("READINESS_TIMEOUT must be positive (got %s)", c.ReadinessCheck))
	}

	// Events
	if c.KafkaBrokers != "" {
		for _, b := range SplitList(c.KafkaBrokers) {
			if _, _, err := net.SplitHostPort(b); err != nil {
				errs = append(errs, fmt.Errorf("KAFKA_BROKERS entry must be host:port (got %q)", b))
			}
		}
		if c.KafkaTopic == "" {
			errs = append(errs, fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
		}
	}

	return errors.Join(errs...)
}
