// Package journal records write operations of a shard and streams them to
// replication consumers.
//
// Every shard owns one Journal. Command handlers append entries after their
// transaction has applied the write; registered observers (streamers) receive them through a
// lock-free multi-producer single-consumer queue, so journaling never
// blocks the data plane.
//
// A Streamer frames entries onto an io.Writer with a bounded in-flight
// window: when the unacknowledged bytes reach the configured output limit
// the producer side throttles, and after the configured timeout it gives
// up and reports a stream timeout. LSN markers piggy-back on the stream on
// a coarse cadence so a consumer can checkpoint its position.
package journal
