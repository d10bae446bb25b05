package cfg

import (
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet so tests never touch
// flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON || c.LogLevel != "info" || c.StacktraceLevel != "error" {
		t.Errorf("log defaults = %v %q %q", c.LogJSON, c.LogLevel, c.StacktraceLevel)
	}
	if c.HTTPPort != 8080 || c.AdminPort != 9000 {
		t.Errorf("ports = %d/%d", c.HTTPPort, c.AdminPort)
	}
	if c.TrustedProxyHops != 1 {
		t.Errorf("TrustedProxyHops = %d", c.TrustedProxyHops)
	}
	if c.SettingsBackend != BackendStatic {
		t.Errorf("SettingsBackend = %q", c.SettingsBackend)
	}
	if c.ConfigTTL != 5*time.Minute || c.SweepInterval != time.Hour || c.StaleAfter != time.Hour {
		t.Errorf("limiter durations = %s %s %s", c.ConfigTTL, c.SweepInterval, c.StaleAfter)
	}
	if c.MaxEntries != 500_000 {
		t.Errorf("MaxEntries = %d", c.MaxEntries)
	}
	if got := SplitList(c.BypassClients); len(got) != 3 || got[0] != "127.0.0.1" || got[1] != "::1" || got[2] != "localhost" {
		t.Errorf("BypassClients = %q", c.BypassClients)
	}
	if c.KafkaBrokers != "" || c.KafkaTopic != "admission-events" {
		t.Errorf("kafka = %q %q", c.KafkaBrokers, c.KafkaTopic)
	}
	if c.EnablePyroscope || c.EnableTracing || !c.EnablePprof {
		t.Error("profiling and tracing defaults wrong")
	}
	if err := Validate(c, false); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-http-port=9090",
		"-settings-backend=s3",
		"-settings-s3-bucket=cfg-bucket",
		"-settings-s3-key=admin/settings.json",
		"-settings-signing-key-arn=arn:aws:kms:us-east-2:111122223333:key/abc",
		"-ratelimit-config-ttl=30s",
		"-ratelimit-sweep-interval=10m",
		"-ratelimit-max-entries=1000",
		"-ratelimit-bypass=10.0.0.1, 10.0.0.2",
		"-kafka-brokers=k1:9092,k2:9092",
	})

	if c.LogJSON || c.HTTPPort != 9090 {
		t.Errorf("LogJSON=%v HTTPPort=%d", c.LogJSON, c.HTTPPort)
	}
	if c.SettingsBackend != BackendS3 || c.SettingsS3Bucket != "cfg-bucket" || c.SettingsS3Key != "admin/settings.json" {
		t.Errorf("s3 settings = %q %q %q", c.SettingsBackend, c.SettingsS3Bucket, c.SettingsS3Key)
	}
	if c.ConfigTTL != 30*time.Second || c.SweepInterval != 10*time.Minute || c.MaxEntries != 1000 {
		t.Errorf("limiter = %s %s %d", c.ConfigTTL, c.SweepInterval, c.MaxEntries)
	}
	if got := SplitList(c.BypassClients); len(got) != 2 || got[1] != "10.0.0.2" {
		t.Errorf("bypass = %q", got)
	}
	if err := Validate(c, true); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"LOG_LEVEL", "debug")
	t.Setenv(EnvPrefix+"HTTP_PORT", "8088")
	t.Setenv(EnvPrefix+"SETTINGS_BACKEND", "postgres")
	t.Setenv(EnvPrefix+"DATABASE_DSN", "postgres://admin@db/settings")
	t.Setenv(EnvPrefix+"RATELIMIT_STALE_AFTER", "2h")
	t.Setenv(EnvPrefix+"TRUSTED_PROXY_HOPS", "2")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, EnvPrefix, nil)

	if c.LogLevel != "debug" || c.HTTPPort != 8088 {
		t.Errorf("LogLevel=%q HTTPPort=%d", c.LogLevel, c.HTTPPort)
	}
	if c.SettingsBackend != BackendPostgres || c.DatabaseDSN != "postgres://admin@db/settings" {
		t.Errorf("backend=%q dsn=%q", c.SettingsBackend, c.DatabaseDSN)
	}
	if c.StaleAfter != 2*time.Hour || c.TrustedProxyHops != 2 {
		t.Errorf("StaleAfter=%s hops=%d", c.StaleAfter, c.TrustedProxyHops)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"ENABLE_PPROF", "false")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-log-level=debug", "-enable-pprof=true"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 9090 || c.LogLevel != "debug" || !c.EnablePprof {
		t.Errorf("cli values lost: %d %q %v", c.HTTPPort, c.LogLevel, c.EnablePprof)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 override messages, got %d: %v", len(msgs), msgs)
	}
	for _, msg := range msgs {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"HTTP_PORT", "not-a-number")
	t.Setenv(pfx+"RATELIMIT_CONFIG_TTL", "soon")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 8080 || c.ConfigTTL != 5*time.Minute {
		t.Errorf("defaults not kept: %d %s", c.HTTPPort, c.ConfigTTL)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 log messages, got %d: %v", len(msgs), msgs)
	}
	for _, msg := range msgs {
		if !strings.Contains(msg, "ignoring invalid env") {
			t.Errorf("unexpected log message: %s", msg)
		}
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName(EnvPrefix, "ratelimit-max-entries"); got != "LMADMIN_RATELIMIT_MAX_ENTRIES" {
		t.Fatalf("EnvName = %q", got)
	}
}

func TestSplitList(t *testing.T) {
	if got := SplitList(" a, ,b,"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("SplitList = %q", got)
	}
	if got := SplitList(""); got != nil {
		t.Fatalf("SplitList(\"\") = %q", got)
	}
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		release bool
		wantErr string
	}{
		{name: "static dev", args: nil},
		{name: "static release needs file", release: true, wantErr: "SETTINGS_FILE"},
		{name: "static release with file", args: []string{"-settings-file=/etc/admin/settings.json"}, release: true},
		{name: "ssm", args: []string{"-settings-backend=ssm"}},
		{name: "ssm relative prefix", args: []string{"-settings-backend=ssm", "-ssm-prefix=app/x"}, wantErr: "SSM_PREFIX"},
		{name: "s3 no bucket", args: []string{"-settings-backend=s3"}, wantErr: "SETTINGS_S3_BUCKET"},
		{name: "s3 dev unsigned", args: []string{"-settings-backend=s3", "-settings-s3-bucket=b"}},
		{name: "s3 release unsigned", args: []string{"-settings-backend=s3", "-settings-s3-bucket=b"}, release: true, wantErr: "SETTINGS_SIGNING_KEY_ARN"},
		{name: "postgres no dsn", args: []string{"-settings-backend=postgres"}, wantErr: "DATABASE_DSN"},
		{name: "unknown", args: []string{"-settings-backend=redis"}, wantErr: "invalid SETTINGS_BACKEND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(newTestConfig(t, tt.args), tt.release)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			wantErrContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-max-error-links=0",
		"-trusted-proxy-hops=-1",
		"-ratelimit-config-ttl=0s",
		"-ratelimit-max-entries=0",
		"-kafka-brokers=broker-without-port",
	})

	err := Validate(c, false)
	for _, want := range []string{
		"invalid HTTP_PORT",
		"invalid ADMIN_PORT",
		"invalid LOG_LEVEL",
		"invalid STACKTRACE_LEVEL",
		"invalid TRACE_SAMPLE",
		"PYRO_SERVER must be a URL",
		"PYRO_TENANT required",
		"OTLP_ENDPOINT must be host:port",
		"MAX_ERROR_LINKS",
		"TRUSTED_PROXY_HOPS",
		"RATELIMIT_CONFIG_TTL",
		"RATELIMIT_MAX_ENTRIES",
		"KAFKA_BROKERS",
	} {
		wantErrContains(t, err, want)
	}
}

func TestValidate_SamePorts(t *testing.T) {
	c := newTestConfig(t, []string{"-http-port=9000"})
	wantErrContains(t, Validate(c, false), "must differ")
}
