package ratelimit

import (
	"context"
	"slices"
	"time"
)

// SweepResult describes one sweep.
type SweepResult struct {
	// Stale entries were idle longer than the stale threshold.
	Stale int
	// Evicted entries were purged because the table was over its ceiling.
	Evicted   int
	Remaining int
	Duration  time.Duration
}

// run sweeps on the configured cadence, or early when an insert crosses the
// ceiling. It returns when ctx is done.
func (s *Store) run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		case <-s.wake:
			s.Sweep()
		}
	}
}

// Sweep removes stale entries, then purges the least recently seen entries
// if the table is still over its ceiling. Only one shard is locked at a time.
func (s *Store) Sweep() SweepResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	cutoff := s.now().Add(-s.staleAfter)

	var res SweepResult
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if e.lastAccess.Before(cutoff) {
				delete(sh.entries, id)
				res.Stale++
			}
		}
		sh.mu.Unlock()
	}
	s.size.Add(-int64(res.Stale))

	if n := s.Len(); n > s.maxEntries {
		res.Evicted = s.evictOldest(n - (s.maxEntries - s.margin))
	}

	res.Remaining = s.Len()
	res.Duration = time.Since(start)
	if res.Remaining <= s.maxEntries {
		s.overCap.Store(false)
	}
	if s.onSweep != nil {
		s.onSweep(res)
	}
	return res
}

type candidate struct {
	id         string
	shard      *shard
	lastAccess time.Time
}

// evictOldest removes up to k entries with the oldest lastAccess. An entry
// touched after the snapshot was taken is skipped.
func (s *Store) evictOldest(k int) int {
	if k <= 0 {
		return 0
	}
	all := make([]candidate, 0, s.Len())
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			all = append(all, candidate{id: id, shard: sh, lastAccess: e.lastAccess})
		}
		sh.mu.Unlock()
	}
	slices.SortFunc(all, func(a, b candidate) int {
		return a.lastAccess.Compare(b.lastAccess)
	})
	if k > len(all) {
		k = len(all)
	}

	removed := 0
	for _, c := range all[:k] {
		c.shard.mu.Lock()
		if e, ok := c.shard.entries[c.id]; ok && !e.lastAccess.After(c.lastAccess) {
			delete(c.shard.entries, c.id)
			removed++
		}
		c.shard.mu.Unlock()
	}
	s.size.Add(-int64(removed))
	return removed
}
