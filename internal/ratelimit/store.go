package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour

	DefaultMaxEntries    = 500_000
	DefaultSafetyMargin  = 1_000
	DefaultShards        = 64
	DefaultSweepInterval = time.Hour
	DefaultStaleAfter    = time.Hour
)

// ErrConfigIncomplete is returned when limiting is enabled but a per-minute
// or per-hour maximum is missing.
var ErrConfigIncomplete = errors.New("rate limit config incomplete: max per minute and max per hour are required")

// Reason explains a Decision.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonBlocked     Reason = "temporarily_blocked"
	ReasonMinuteLimit Reason = "minute_limit_exceeded"
	ReasonHourLimit   Reason = "hour_limit_exceeded"
	ReasonDisabled    Reason = "disabled"
	ReasonBypass      Reason = "bypass"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Reason  Reason

	// RetryAfter is only set on rejections.
	RetryAfter time.Duration

	// Remaining, Limit and ResetAt describe the client's quota. They are zero
	// for decisions that never touched the table (disabled, bypass).
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Limited reports whether the decision came from the counter table, i.e.
// whether quota headers are meaningful.
func (d Decision) Limited() bool {
	return d.Reason != ReasonDisabled && d.Reason != ReasonBypass
}

// entry is one client's counters. A zero blockedUntil means not blocked.
type entry struct {
	count        int
	windowStart  time.Time
	lastReset    time.Time
	lastAccess   time.Time
	blockedUntil time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Store holds per-client counters and owns the background sweeper.
type Store struct {
	shards []*shard
	size   atomic.Int64

	now        func() time.Time
	sweepEvery time.Duration
	staleAfter time.Duration
	maxEntries int
	margin     int
	bypass     map[string]struct{}

	// wake is signalled without blocking when an insert crosses the ceiling
	wake chan struct{}
	// sweepMu serializes sweeps, admission checks never take it
	sweepMu sync.Mutex
	// overCap latches so OnCapacity fires once per ceiling crossing
	overCap atomic.Bool

	onSweep    func(SweepResult)
	onCapacity func(size int)
	onBlocked  func(clientID string, until time.Time)
}

type Option func(*Store)

// WithSweepInterval sets the cadence of the stale-entry sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sweepEvery = d
		}
	}
}

// WithStaleAfter sets how long an entry may go untouched before a sweep drops it.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithMaxEntries sets the table ceiling.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithSafetyMargin sets how far below the ceiling a capacity purge goes.
func WithSafetyMargin(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.margin = n
		}
	}
}

func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// WithBypass replaces the set of client ids that are always admitted.
func WithBypass(ids ...string) Option {
	return func(s *Store) {
		s.bypass = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			s.bypass[id] = struct{}{}
		}
	}
}

// WithExtraBypass adds client ids to the bypass set, keeping the loopback
// defaults. Blank ids are ignored.
func WithExtraBypass(ids ...string) Option {
	return func(s *Store) {
		if s.bypass == nil {
			s.bypass = make(map[string]struct{}, len(ids))
		}
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.bypass[id] = struct{}{}
			}
		}
	}
}

// WithClock injects the time source, tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOnSweep is called after every sweep with its result.
func WithOnSweep(fn func(SweepResult)) Option {
	return func(s *Store) { s.onSweep = fn }
}

// WithOnCapacity is called once each time the table grows past the ceiling.
// It fires again only after a sweep has brought the table back under it.
func WithOnCapacity(fn func(size int)) Option {
	return func(s *Store) { s.onCapacity = fn }
}

// WithOnBlocked is called whenever a client is put into a temporary block.
// Called outside any shard lock.
func WithOnBlocked(fn func(clientID string, until time.Time)) Option {
	return func(s *Store) { s.onBlocked = fn }
}

func newShards(n int) []*shard {
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{entries: make(map[string]*entry)}
	}
	return out
}

// New creates a Store and starts its sweeper, which stops when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *Store {
	s := &Store{
		shards:     newShards(DefaultShards),
		now:        time.Now,
		sweepEvery: DefaultSweepInterval,
		staleAfter: DefaultStaleAfter,
		maxEntries: DefaultMaxEntries,
		margin:     DefaultSafetyMargin,
		wake:       make(chan struct{}, 1),
	}
	WithBypass("127.0.0.1", "::1", "localhost")(s)
	for _, o := range opts {
		o(s)
	}
	if s.margin >= s.maxEntries {
		s.margin = 0
	}
	go s.run(ctx)
	return s
}

func (s *Store) shardFor(clientID string) *shard {
	return s.shards[xxhash.Sum64String(clientID)%uint64(len(s.shards))]
}

// Bypassed reports whether clientID skips limiting entirely.
func (s *Store) Bypassed(clientID string) bool {
	_, ok := s.bypass[clientID]
	return ok
}

// CheckAdmission records a request from clientID and decides whether to admit it.
//
// A disabled config or a bypass id admits without touching the table. An
// enabled config missing either maximum returns ErrConfigIncomplete.
func (s *Store) CheckAdmission(clientID string, cfg Config) (Decision, error) {
	if !cfg.Enabled {
		return Decision{Allowed: true, Reason: ReasonDisabled}, nil
	}
	if s.Bypassed(clientID) {
		return Decision{Allowed: true, Reason: ReasonBypass}, nil
	}
	if cfg.MaxPerMinute == nil || cfg.MaxPerHour == nil {
		return Decision{}, xerrors.WithStack(ErrConfigIncomplete)
	}

	now := s.now()
	sh := s.shardFor(clientID)

	sh.mu.Lock()
	e, ok := sh.entries[clientID]
	if !ok {
		e = &entry{windowStart: now, lastReset: now}
		sh.entries[clientID] = e
	}
	e.lastAccess = now
	d, blocked := decide(e, now, *cfg.MaxPerMinute, *cfg.MaxPerHour, cfg.BlockDuration())
	until := e.blockedUntil
	sh.mu.Unlock()

	if !ok {
		if n := s.size.Add(1); n > int64(s.maxEntries) {
			s.overCapacity(int(n))
		}
	}
	if blocked && s.onBlocked != nil {
		s.onBlocked(clientID, until)
	}
	return d, nil
}

// decide applies the window rules to e. The caller holds the shard lock.
// blocked is true when this call started a new temporary block.
//
// The minute check runs before the hour check and both read the same
// counter, which resets on every minute rollover. The hour limit therefore
// only trips when it is lower than the minute limit.
func decide(e *entry, now time.Time, maxMin, maxHour int, block time.Duration) (d Decision, blocked bool) {
	if !e.blockedUntil.IsZero() {
		if now.Before(e.blockedUntil) {
			return Decision{
				Reason:     ReasonBlocked,
				RetryAfter: ceilSeconds(e.blockedUntil.Sub(now)),
				Limit:      maxMin,
				ResetAt:    e.blockedUntil,
			}, false
		}
		e.blockedUntil = time.Time{}
	}

	if now.Sub(e.windowStart) >= minuteWindow {
		e.count = 0
		e.windowStart = now
	}
	if now.Sub(e.lastReset) >= hourWindow {
		e.count = 0
		e.lastReset = now
		e.windowStart = now
	}

	if e.count >= maxMin {
		if block > 0 {
			e.blockedUntil = now.Add(block)
			blocked = true
		}
		return Decision{
			Reason:     ReasonMinuteLimit,
			RetryAfter: minuteWindow,
			Limit:      maxMin,
			ResetAt:    e.windowStart.Add(minuteWindow),
		}, blocked
	}
	if e.count >= maxHour {
		return Decision{
			Reason:     ReasonHourLimit,
			RetryAfter: hourWindow,
			Limit:      maxHour,
			ResetAt:    e.lastReset.Add(hourWindow),
		}, false
	}

	e.count++
	return Decision{
		Allowed:   true,
		Remaining: max(0, min(maxMin-e.count, maxHour-e.count)),
		Limit:     maxMin,
		ResetAt:   e.windowStart.Add(minuteWindow),
	}, false
}

// ceilSeconds rounds d up to a whole second.
func ceilSeconds(d time.Duration) time.Duration {
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

func (s *Store) overCapacity(n int) {
	if s.overCap.CompareAndSwap(false, true) && s.onCapacity != nil {
		s.onCapacity(n)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len is the number of entries in the table.
func (s *Store) Len() int { return int(s.size.Load()) }

// Stats is a point-in-time summary of the table.
type Stats struct {
	Entries    int `json:"entries"`
	Blocked    int `json:"blocked"`
	MaxEntries int `json:"maxEntries"`
	Shards     int `json:"shards"`
}

// Stats walks every shard, so it is not meant for the request path.
func (s *Store) Stats() Stats {
	now := s.now()
	st := Stats{MaxEntries: s.maxEntries, Shards: len(s.shards)}
	for _, sh := range s.shards {
		sh.mu.Lock()
		st.Entries += len(sh.entries)
		for _, e := range sh.entries {
			if now.Before(e.blockedUntil) {
				st.Blocked++
			}
		}
		sh.mu.Unlock()
	}
	return st
}

// Reset drops clientID's entry, clearing its counters and any block.
// It reports whether an entry existed.
func (s *Store) Reset(clientID string) bool {
	sh := s.shardFor(clientID)
	sh.mu.Lock()
	_, ok := sh.entries[clientID]
	if ok {
		delete(sh.entries, clientID)
	}
	sh.mu.Unlock()
	if ok {
		s.size.Add(-1)
	}
	return ok
}
