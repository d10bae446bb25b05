// Package ratelimit is the per-client admission store.
//
// Each client id gets one counter entry with a one-minute window nested in a
// one-hour window, plus an optional temporary block set when the minute limit
// trips. Entries live in memory only and are not shared between instances.
//
// The table is split into shards keyed by an xxhash of the client id. Each
// shard has its own mutex, so an admission check for one client never waits
// on a check for a client in another shard, and the sweeper locks one shard at
// a time.
//
// A background sweeper owned by the Store removes entries idle for more than
// an hour. If the table grows past its ceiling the sweeper is woken early and
// also purges the least recently seen entries down to the ceiling minus a
// safety margin.
//
// The rate limit settings themselves come from a settings.Source through
// ConfigLoader, which caches them for a fixed TTL.
package ratelimit
