package db

import (
	"github.com/finchdb/finch/lib/core"
)

const (
	segmentBuckets  = 64 // buckets per logical segment for segment-order scans
	initialBuckets  = 64
	bucketSplitLoad = 6 // average entries per bucket that triggers growth
)

// --------------------------------------------------------------------------
// PrimeTable
// --------------------------------------------------------------------------

// tableEntry is one key slot. The probe field is carried with the entry;
// nothing in this package sets or reads it, and cursors do not use it.
type tableEntry struct {
	hash  uint64
	probe bool
	key   core.CompactValue
	value core.CompactValue
}

type bucket struct {
	version uint32
	entries []tableEntry
}

// PrimeTable is the primary hash table of a shard database. It is a
// power-of-two array of chained buckets with per-bucket versions; growth
// doubles the array and splits each bucket in place, which keeps Traverse
// cursors valid (an entry only ever moves from bucket i to bucket
// i+oldLen).
type PrimeTable struct {
	buckets []bucket
	size    int
	seed    uint64
}

// NewPrimeTable creates an empty table with its own hash seed.
func NewPrimeTable() *PrimeTable {
	return &PrimeTable{
		buckets: make([]bucket, initialBuckets),
		seed:    core.GenerateSeed(),
	}
}

// Hash returns the table hash of a raw key.
func (t *PrimeTable) Hash(key []byte) uint64 {
	return core.HashBytes(key, t.seed)
}

func (t *PrimeTable) bucketFor(hash uint64) *bucket {
	return &t.buckets[hash&uint64(len(t.buckets)-1)]
}

// Len returns the number of stored entries.
func (t *PrimeTable) Len() int { return t.size }

// BucketCount returns the current bucket array size.
func (t *PrimeTable) BucketCount() int { return len(t.buckets) }

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// Iterator addresses one entry of a PrimeTable. It stays valid across
// in-bucket mutations but not across Delete of the addressed entry.
type Iterator struct {
	t   *PrimeTable
	bkt int
	idx int
}

// IsValid reports whether the iterator addresses an entry.
func (it Iterator) IsValid() bool {
	return it.t != nil && it.bkt < len(it.t.buckets) && it.idx < len(it.t.buckets[it.bkt].entries)
}

// Key returns the key cell.
func (it Iterator) Key() *core.CompactValue {
	return &it.t.buckets[it.bkt].entries[it.idx].key
}

// Value returns the value cell.
func (it Iterator) Value() *core.CompactValue {
	return &it.t.buckets[it.bkt].entries[it.idx].value
}

// KeyHash returns the stored hash of the entry's key.
func (it Iterator) KeyHash() uint64 {
	return it.t.buckets[it.bkt].entries[it.idx].hash
}

// BucketVersion returns the version of the bucket holding the entry.
func (it Iterator) BucketVersion() uint32 {
	return it.t.buckets[it.bkt].version
}

// SetBucketVersion updates the bucket version (snapshot consumers bump it
// past their own version after serializing the bucket).
func (it Iterator) SetBucketVersion(v uint32) {
	it.t.buckets[it.bkt].version = v
}

// BumpVersion increments the bucket version; called after any mutation.
func (it Iterator) BumpVersion() {
	it.t.buckets[it.bkt].version++
}

// --------------------------------------------------------------------------
// Lookup and mutation
// --------------------------------------------------------------------------

// Find returns an iterator for key, or an invalid iterator.
func (t *PrimeTable) Find(key []byte) Iterator {
	hash := t.Hash(key)
	bi := int(hash & uint64(len(t.buckets)-1))
	b := &t.buckets[bi]
	for i := range b.entries {
		if b.entries[i].hash == hash && b.entries[i].key.EqualBytes(key) {
			return Iterator{t: t, bkt: bi, idx: i}
		}
	}
	return Iterator{}
}

// FindFirst returns the first entry with the given key hash that satisfies
// pred.
func (t *PrimeTable) FindFirst(hash uint64, pred func(key, value *core.CompactValue) bool) Iterator {
	bi := int(hash & uint64(len(t.buckets)-1))
	b := &t.buckets[bi]
	for i := range b.entries {
		if b.entries[i].hash == hash && pred(&b.entries[i].key, &b.entries[i].value) {
			return Iterator{t: t, bkt: bi, idx: i}
		}
	}
	return Iterator{}
}

// AddOrFind returns the entry for key, inserting an empty value cell if it
// does not exist.
func (t *PrimeTable) AddOrFind(key []byte) (Iterator, bool) {
	if it := t.Find(key); it.IsValid() {
		return it, false
	}
	t.maybeGrow()

	hash := t.Hash(key)
	bi := int(hash & uint64(len(t.buckets)-1))
	b := &t.buckets[bi]
	b.entries = append(b.entries, tableEntry{hash: hash, key: core.NewString(key)})
	b.version++
	t.size++
	return Iterator{t: t, bkt: bi, idx: len(b.entries) - 1}, true
}

// Delete removes the entry addressed by it.
func (t *PrimeTable) Delete(it Iterator) {
	b := &t.buckets[it.bkt]
	last := len(b.entries) - 1
	b.entries[it.idx] = b.entries[last]
	b.entries[last] = tableEntry{}
	b.entries = b.entries[:last]
	b.version++
	t.size--
}

func (t *PrimeTable) maybeGrow() {
	if t.size < len(t.buckets)*bucketSplitLoad {
		return
	}
	oldLen := len(t.buckets)
	t.buckets = append(t.buckets, make([]bucket, oldLen)...)
	mask := uint64(len(t.buckets) - 1)
	for i := 0; i < oldLen; i++ {
		b := &t.buckets[i]
		var keep []tableEntry
		for _, e := range b.entries {
			target := int(e.hash & mask)
			if target == i {
				keep = append(keep, e)
			} else {
				nb := &t.buckets[target]
				nb.entries = append(nb.entries, e)
				nb.version = b.version // moved entries inherit their origin version
			}
		}
		b.entries = keep
	}
}

// --------------------------------------------------------------------------
// Traversal
// --------------------------------------------------------------------------

// Cursor is a resumable position in a bucket walk. The zero Cursor starts a
// new cycle; a cycle is complete when the returned cursor is zero again.
type Cursor uint64

// Traverse visits the bucket at the cursor and returns the cursor of the
// next bucket (0 after the last one). fn receives an iterator for every
// entry of the visited bucket. Each live key is observed at least once per
// full cursor cycle even if the table grows in between.
func (t *PrimeTable) Traverse(c Cursor, fn func(Iterator)) Cursor {
	bi := int(c)
	if bi >= len(t.buckets) {
		return 0
	}
	// iterate by index: fn may delete the current entry (swap-remove), in
	// which case the same index must be revisited
	b := &t.buckets[bi]
	for i := 0; i < len(b.entries); i++ {
		before := len(b.entries)
		fn(Iterator{t: t, bkt: bi, idx: i})
		if len(b.entries) < before {
			i--
		}
	}
	bi++
	if bi >= len(t.buckets) {
		return 0
	}
	return Cursor(bi)
}

// TraverseBySegmentOrder walks buckets in segment-major order: bucket k,
// k+segmentBuckets, ... so neighboring calls touch distant cache lines. The
// cursor cycles through the same set of buckets as Traverse.
func (t *PrimeTable) TraverseBySegmentOrder(c Cursor, fn func(Iterator)) Cursor {
	n := len(t.buckets)
	bi := int(c)
	if bi >= n {
		return 0
	}
	b := &t.buckets[bi]
	for i := 0; i < len(b.entries); i++ {
		before := len(b.entries)
		fn(Iterator{t: t, bkt: bi, idx: i})
		if len(b.entries) < before {
			i--
		}
	}

	next := bi + segmentBuckets
	if next < n {
		return Cursor(next)
	}
	// wrap to the next column of segments
	col := bi%segmentBuckets + 1
	if col >= segmentBuckets || col >= n {
		return 0
	}
	return Cursor(col)
}
