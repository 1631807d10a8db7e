// Package engine implements the per-shard cooperative runtime and the
// transaction coordinator on top of it.
//
// The keyspace is partitioned into N shards; every shard is owned by
// exactly one executor goroutine which serializes all access to the shard's
// database slice and tiered storage. Work reaches an executor only
// as submitted closures, so nothing in the data plane locks.
//
// Transactions span one or more shards. Scheduling acquires the
// participating shard locks in ascending shard order (a deterministic
// global order, so overlapping transactions are observed identically on
// every shard and deadlock is impossible), then dispatches one hop closure
// per shard. Single-hop commands use ScheduleSingleHop; multi-hop commands
// chain Execute calls and conclude explicitly.
//
// Blocking commands register watchers on their keys with a millisecond
// deadline. A concluding writer wakes the watchers of the keys it touched;
// the blocking predicate re-runs under the shard executor so wakeups are
// never acted on speculatively.
package engine
