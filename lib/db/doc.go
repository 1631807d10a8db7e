// Package db implements the per-shard database: the prime table mapping
// keys to values, the expire table, per-type statistics and the change
// notification registry.
//
// A Slice owns one logical database array for a single shard. All access
// must happen on that shard's executor; nothing in this package locks.
//
// The prime table is a segmented bucket table keyed by core.CompactValue
// with a 32-bit version per bucket. Versions, together with the registered
// change callbacks, let snapshot and replication consumers observe every
// mutation that happened after they started.
//
// Expiry is a monotonic millisecond timestamp stored in the expire table.
// Read paths treat an expired key as absent and delete it lazily; the shard
// executor additionally runs a sampling pass to collect expired keys that
// are never touched again.
package db
