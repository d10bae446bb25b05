// Package prof pushes continuous profiles to Pyroscope.
package prof

import (
	"context"
	"net/url"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
	"github.com/keithlinneman/linnemanlabs-admin/internal/version"
	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	TenantID      string
	Tags          map[string]string

	// Mutex and block profiling cost CPU; zero leaves the runtime default (off).
	ProfileMutexFraction int
	BlockProfileRate     int

	// OnActive reports whether the profiler is running, on start and stop.
	OnActive func(bool)
}

// Tags returns the standard profile labels for a component of this build.
func Tags(component string, vi version.Info) map[string]string {
	return map[string]string{
		"app":       vi.AppName,
		"component": component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "go-agent",
	}
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

func (o Options) validate() error {
	if o.ServerAddress == "" {
		return xerrors.New("pyroscope server address is required")
	}
	u, err := url.Parse(o.ServerAddress)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return xerrors.Newf("invalid pyroscope server address %q", o.ServerAddress)
	}
	if o.AppName == "" {
		return xerrors.New("pyroscope application name is required")
	}
	return nil
}

// Start begins profiling when enabled. The returned stop func is always
// non-nil and safe to call more than once.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	report := func(active bool) {
		if opts.OnActive != nil {
			opts.OnActive(active)
		}
	}
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		report(false)
		return noop, nil
	}
	if err := opts.validate(); err != nil {
		report(false)
		return noop, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    profileTypes,
	})
	if err != nil {
		report(false)
		return noop, xerrors.Wrapf(err, "start pyroscope for %s", opts.ServerAddress)
	}

	L.Info(ctx, "pyroscope started", "server_address", opts.ServerAddress, "app_name", opts.AppName)
	report(true)

	var once sync.Once
	return func() {
		once.Do(func() {
			profiler.Stop()
			report(false)
			L.Info(context.Background(), "pyroscope stopped", "server_address", opts.ServerAddress)
		})
	}, nil
}
