// Package tiered implements the asynchronous offload engine that moves
// cold string values to a page aligned disk file and fetches them back on
// demand.
//
// Values at least half a page large occupy whole pages of their own.
// Smaller values are batched into shared bin pages: a bin accumulates
// (db, key, bytes) entries until the page is full, then the whole page is
// stashed at once. A bin page records its own directory so defragmentation
// can re-read it and re-upload the surviving entries without any in-memory
// state beyond live-byte accounting.
//
// All bookkeeping runs on the owning shard's executor; only the raw file
// reads and writes happen on I/O goroutines, which hand their completions
// back to the executor. In-flight operations reference their entry by
// (db, key) - never by pointer - so a key deleted mid-flight is simply not
// found when the completion lands.
//
// Back-pressure: at most WriteDepth stash requests are in flight per
// shard, and offloading suspends when the page file approaches its
// capacity.
package tiered
