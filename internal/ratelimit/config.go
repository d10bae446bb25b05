package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/keithlinneman/linnemanlabs-admin/internal/settings"
	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

// Settings keys read by ConfigLoader.
const (
	SettingsCategory = "Application.Security.SessionManagement"

	KeyEnabled       = "rate.limiting.enabled"
	KeyMaxPerMinute  = "rate.limiting.max.requests.per.minute"
	KeyMaxPerHour    = "rate.limiting.max.requests.per.hour"
	KeyBlockDuration = "rate.limiting.block.duration.minutes"

	DefaultConfigTTL    = 5 * time.Minute
	DefaultFetchTimeout = 10 * time.Second
)

// Config is the active rate limit policy. Nil maximums mean the setting was
// absent, which CheckAdmission reports as ErrConfigIncomplete.
type Config struct {
	Enabled              bool `json:"enabled"`
	MaxPerMinute         *int `json:"maxRequestsPerMinute,omitempty"`
	MaxPerHour           *int `json:"maxRequestsPerHour,omitempty"`
	BlockDurationMinutes *int `json:"blockDurationMinutes,omitempty"`
}

// BlockDuration is zero when no block is configured.
func (c Config) BlockDuration() time.Duration {
	if c.BlockDurationMinutes == nil || *c.BlockDurationMinutes <= 0 {
		return 0
	}
	return time.Duration(*c.BlockDurationMinutes) * time.Minute
}

// ConfigLoader caches Config for a fixed TTL and reloads it from a
// settings.Source once the TTL has passed. Concurrent reloads collapse into
// one fetch. A failed reload is returned to every waiting caller and the
// expired value is not served in its place.
type ConfigLoader struct {
	src settings.Source
	ttl time.Duration
	now func() time.Time

	group        singleflight.Group
	fetchTimeout time.Duration

	mu       sync.RWMutex
	cached   Config
	loadedAt time.Time
	loaded   bool

	onRefresh func(Config, error)
}

type LoaderOption func(*ConfigLoader)

// WithTTL sets how long a loaded Config is served before the next reload.
func WithTTL(d time.Duration) LoaderOption {
	return func(l *ConfigLoader) {
		if d > 0 {
			l.ttl = d
		}
	}
}

func WithLoaderClock(now func() time.Time) LoaderOption {
	return func(l *ConfigLoader) {
		if now != nil {
			l.now = now
		}
	}
}

// WithFetchTimeout bounds a single reload. The reload does not inherit the
// triggering caller's cancellation.
func WithFetchTimeout(d time.Duration) LoaderOption {
	return func(l *ConfigLoader) {
		if d > 0 {
			l.fetchTimeout = d
		}
	}
}

// WithOnRefresh is called after every fetch attempt.
func WithOnRefresh(fn func(Config, error)) LoaderOption {
	return func(l *ConfigLoader) { l.onRefresh = fn }
}

func NewConfigLoader(src settings.Source, opts ...LoaderOption) *ConfigLoader {
	l := &ConfigLoader{
		src:          src,
		ttl:          DefaultConfigTTL,
		now:          time.Now,
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Get returns the cached Config, reloading it first if it is missing or expired.
// The reload is shared by every concurrent caller and runs detached from
// ctx, so one caller going away does not fail the others. A caller whose own
// ctx ends stops waiting and gets ctx.Err().
func (l *ConfigLoader) Get(ctx context.Context) (Config, error) {
	if cfg, ok := l.fresh(); ok {
		return cfg, nil
	}

	ch := l.group.DoChan("config", func() (any, error) {
		// another caller may have finished a reload while we queued
		if cfg, ok := l.fresh(); ok {
			return cfg, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.fetchTimeout)
		defer cancel()
		cfg, err := l.fetch(fctx)
		if l.onRefresh != nil {
			l.onRefresh(cfg, err)
		}
		if err != nil {
			return Config{}, err
		}
		l.mu.Lock()
		l.cached, l.loadedAt, l.loaded = cfg, l.now(), true
		l.mu.Unlock()
		return cfg, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Config{}, res.Err
		}
		return res.Val.(Config), nil
	case <-ctx.Done():
		return Config{}, ctx.Err()
	}
}

// Invalidate forces the next Get to reload.
func (l *ConfigLoader) Invalidate() {
	l.mu.Lock()
	l.loaded = false
	l.mu.Unlock()
}

func (l *ConfigLoader) fresh() (Config, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.loaded && l.now().Sub(l.loadedAt) < l.ttl {
		return l.cached, true
	}
	return Config{}, false
}

func (l *ConfigLoader) fetch(ctx context.Context) (Config, error) {
	var cfg Config

	raw, ok, err := l.src.GetSetting(ctx, SettingsCategory, KeyEnabled)
	if err != nil {
		return Config{}, xerrors.Wrapf(err, "get setting %s", KeyEnabled)
	}
	if ok {
		if cfg.Enabled, err = settings.ParseBool(raw); err != nil {
			return Config{}, xerrors.Wrapf(err, "parse setting %s", KeyEnabled)
		}
	}

	for _, f := range []struct {
		key string
		dst **int
	}{
		{KeyMaxPerMinute, &cfg.MaxPerMinute},
		{KeyMaxPerHour, &cfg.MaxPerHour},
		{KeyBlockDuration, &cfg.BlockDurationMinutes},
	} {
		raw, ok, err := l.src.GetSetting(ctx, SettingsCategory, f.key)
		if err != nil {
			return Config{}, xerrors.Wrapf(err, "get setting %s", f.key)
		}
		if !ok {
			continue
		}
		n, err := settings.ParseInt(raw)
		if err != nil {
			return Config{}, xerrors.Wrapf(err, "parse setting %s", f.key)
		}
		*f.dst = &n
	}
	return cfg, nil
}
