package strmap

import (
	"math/rand"

	"github.com/finchdb/finch/lib/core"
)

const (
	minCapacity = 8
	maxLoadNum  = 3 // grow above 3/4 load
	maxLoadDen  = 4
	scanChunk   = 16 // slots visited per Scan call
)

// NoTTL is the ttl argument for fields without expiry.
const NoTTL = ^uint32(0)

type entry struct {
	field    []byte
	value    []byte
	hash     uint64
	expireAt uint32 // absolute seconds on the owner clock; 0 = none
	used     bool
	tomb     bool
	orderSeq uint64 // monotonically increasing insertion stamp
}

// Map is the promoted hash encoding of a field map.
//
// Thread-safety: a Map belongs to one shard and must only be used from its
// executor.
type Map struct {
	slots   []entry
	live    int // used, non-tombstone slots (may include expired)
	tombs   int
	now     uint32
	nextSeq uint64
	heap    int // rough heap accounting of field/value bytes
}

// New creates an empty map.
func New() *Map {
	return &Map{slots: make([]entry, minCapacity)}
}

// SetTime advances the reference clock. now only moves forward.
func (m *Map) SetTime(now uint32) {
	if now > m.now {
		m.now = now
	}
}

// Time returns the current reference clock.
func (m *Map) Time() uint32 { return m.now }

func (m *Map) expired(e *entry) bool {
	return e.expireAt != 0 && e.expireAt <= m.now
}

// --------------------------------------------------------------------------
// Probing
// --------------------------------------------------------------------------

// findSlot locates field. Returns the slot index or -1, plus the first
// reusable slot seen on the probe path. Expired entries encountered on the
// way are collected.
func (m *Map) findSlot(field []byte, hash uint64) (idx, insert int) {
	mask := uint64(len(m.slots) - 1)
	i := hash & mask
	insert = -1
	for probes := 0; probes < len(m.slots); probes++ {
		e := &m.slots[i]
		if !e.used {
			if !e.tomb {
				if insert == -1 {
					insert = int(i)
				}
				return -1, insert
			}
			if insert == -1 {
				insert = int(i)
			}
		} else {
			if m.expired(e) {
				m.collect(int(i))
				if insert == -1 {
					insert = int(i)
				}
			} else if e.hash == hash && string(e.field) == string(field) {
				return int(i), insert
			}
		}
		i = (i + 1) & mask
	}
	return -1, insert
}

// collect turns an expired slot into a tombstone.
func (m *Map) collect(i int) {
	e := &m.slots[i]
	m.heap -= cap(e.field) + cap(e.value)
	*e = entry{tomb: true}
	m.live--
	m.tombs++
}

func (m *Map) maybeGrow() {
	if (m.live+m.tombs)*maxLoadDen < len(m.slots)*maxLoadNum {
		return
	}
	newCap := len(m.slots) * 2
	if m.live*maxLoadDen < len(m.slots)*maxLoadNum/2 {
		newCap = len(m.slots) // tombstone-heavy: rehash in place size
	}
	old := m.slots
	m.slots = make([]entry, newCap)
	m.live, m.tombs = 0, 0
	for i := range old {
		e := &old[i]
		if e.used && !m.expired(e) {
			m.place(*e)
		}
	}
}

// place inserts a fully formed entry into an empty slot (rehash path).
func (m *Map) place(e entry) {
	mask := uint64(len(m.slots) - 1)
	i := e.hash & mask
	for m.slots[i].used {
		i = (i + 1) & mask
	}
	e.tomb = false
	m.slots[i] = e
	m.live++
}

// Reserve grows the table to hold at least n entries without rehashing.
func (m *Map) Reserve(n int) {
	need := minCapacity
	for need*maxLoadNum/maxLoadDen < n {
		need *= 2
	}
	if need <= len(m.slots) {
		return
	}
	old := m.slots
	m.slots = make([]entry, need)
	m.live, m.tombs = 0, 0
	for i := range old {
		e := &old[i]
		if e.used && !m.expired(e) {
			m.place(*e)
		}
	}
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

func (m *Map) set(field, value []byte, ttlSec uint32, skipExisting bool) (added bool) {
	m.maybeGrow()
	hash := core.HashCode(field)
	idx, insert := m.findSlot(field, hash)

	if idx != -1 {
		if skipExisting {
			return false
		}
		e := &m.slots[idx]
		m.heap += len(value) - cap(e.value)
		e.value = append([]byte(nil), value...)
		if ttlSec == NoTTL {
			e.expireAt = 0
		} else {
			e.expireAt = m.now + ttlSec
		}
		return false
	}

	if insert == -1 {
		// full of tombstones; force a rehash and retry
		m.maybeGrow()
		_, insert = m.findSlot(field, hash)
	}
	e := &m.slots[insert]
	if e.tomb {
		m.tombs--
	}
	expireAt := uint32(0)
	if ttlSec != NoTTL {
		expireAt = m.now + ttlSec
	}
	m.nextSeq++
	*e = entry{
		field:    append([]byte(nil), field...),
		value:    append([]byte(nil), value...),
		hash:     hash,
		expireAt: expireAt,
		used:     true,
		orderSeq: m.nextSeq,
	}
	m.heap += len(field) + len(value)
	m.live++
	return true
}

// AddOrUpdate sets field to value, overwriting an existing field and its
// TTL. ttlSec = NoTTL clears the expiry. Returns whether a new field was
// added.
func (m *Map) AddOrUpdate(field, value []byte, ttlSec uint32) bool {
	return m.set(field, value, ttlSec, false)
}

// AddOrSkip inserts the field only if it does not exist yet; an existing
// field (and its TTL) is left untouched. Returns whether a new field was
// added.
func (m *Map) AddOrSkip(field, value []byte, ttlSec uint32) bool {
	return m.set(field, value, ttlSec, true)
}

// Erase removes field. Returns whether it existed (and was not expired).
func (m *Map) Erase(field []byte) bool {
	idx, _ := m.findSlot(field, core.HashCode(field))
	if idx == -1 {
		return false
	}
	m.collect(idx)
	return true
}

// --------------------------------------------------------------------------
// Lookups
// --------------------------------------------------------------------------

// Iterator points at a live entry.
type Iterator struct {
	m   *Map
	idx int
}

// Found reports whether the iterator points at an entry.
func (it Iterator) Found() bool { return it.idx >= 0 }

// Field returns the field view.
func (it Iterator) Field() []byte { return it.m.slots[it.idx].field }

// Value returns the value view.
func (it Iterator) Value() []byte { return it.m.slots[it.idx].value }

// HasExpiry reports whether the field carries a TTL.
func (it Iterator) HasExpiry() bool { return it.m.slots[it.idx].expireAt != 0 }

// ExpiryTime returns the absolute expiry second on the owner clock.
func (it Iterator) ExpiryTime() uint32 { return it.m.slots[it.idx].expireAt }

// Find returns an iterator for field; Found() is false if the field is
// absent or expired.
func (m *Map) Find(field []byte) Iterator {
	idx, _ := m.findSlot(field, core.HashCode(field))
	return Iterator{m: m, idx: idx}
}

// Contains reports whether field exists and is not expired.
func (m *Map) Contains(field []byte) bool {
	return m.Find(field).Found()
}

// UpperBoundSize returns the number of stored entries. It may overcount by
// entries that are expired but not collected yet.
func (m *Map) UpperBoundSize() int { return m.live }

// Empty reports whether no live entry remains. Unlike UpperBoundSize it is
// exact: expired entries are collected first.
func (m *Map) Empty() bool {
	if m.live == 0 {
		return true
	}
	for i := range m.slots {
		e := &m.slots[i]
		if e.used {
			if m.expired(e) {
				m.collect(i)
			} else {
				return false
			}
		}
	}
	return m.live == 0
}

// Len implements core.Container.
func (m *Map) Len() int { return m.UpperBoundSize() }

// MallocUsed implements core.Container.
func (m *Map) MallocUsed() int {
	return m.heap + len(m.slots)*64
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

// Scan visits live entries starting from cursor in probe order and returns
// the cursor for the next call; 0 means the cycle completed.
func (m *Map) Scan(cursor uint64, fn func(field, value []byte)) uint64 {
	if int(cursor) >= len(m.slots) {
		cursor = 0
	}
	end := int(cursor) + scanChunk
	for i := int(cursor); i < end && i < len(m.slots); i++ {
		e := &m.slots[i]
		if e.used && !m.expired(e) {
			fn(e.field, e.value)
		}
	}
	if end >= len(m.slots) {
		return 0
	}
	return uint64(end)
}

// IterateOrdered visits all live entries in insertion order. Returning
// false from fn stops the iteration.
func (m *Map) IterateOrdered(fn func(field, value []byte) bool) {
	type ordered struct {
		seq int
		idx int
	}
	var idxs []ordered
	for i := range m.slots {
		e := &m.slots[i]
		if e.used && !m.expired(e) {
			idxs = append(idxs, ordered{seq: int(e.orderSeq), idx: i})
		}
	}
	// insertion stamps are unique; simple insertion sort keeps this
	// allocation free for the small maps that dominate
	for i := 1; i < len(idxs); i++ {
		for j := i; j > 0 && idxs[j].seq < idxs[j-1].seq; j-- {
			idxs[j], idxs[j-1] = idxs[j-1], idxs[j]
		}
	}
	for _, o := range idxs {
		if !fn(m.slots[o.idx].field, m.slots[o.idx].value) {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Random sampling
// --------------------------------------------------------------------------

func (m *Map) liveIndices() []int {
	var idxs []int
	for i := range m.slots {
		e := &m.slots[i]
		if e.used && !m.expired(e) {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// RandomPair returns a uniformly random live pair.
func (m *Map) RandomPair() (field, value []byte, ok bool) {
	idxs := m.liveIndices()
	if len(idxs) == 0 {
		return nil, nil, false
	}
	e := &m.slots[idxs[rand.Intn(len(idxs))]]
	return e.field, e.value, true
}

// RandomPairsUnique returns up to k distinct live pairs.
func (m *Map) RandomPairsUnique(k int) (fields, values [][]byte) {
	idxs := m.liveIndices()
	rand.Shuffle(len(idxs), func(i, j int) { idxs[i], idxs[j] = idxs[j], idxs[i] })
	if k > len(idxs) {
		k = len(idxs)
	}
	for _, i := range idxs[:k] {
		fields = append(fields, m.slots[i].field)
		values = append(values, m.slots[i].value)
	}
	return fields, values
}

// RandomPairs returns k live pairs sampled with replacement.
func (m *Map) RandomPairs(k int) (fields, values [][]byte) {
	idxs := m.liveIndices()
	if len(idxs) == 0 {
		return nil, nil
	}
	for i := 0; i < k; i++ {
		e := &m.slots[idxs[rand.Intn(len(idxs))]]
		fields = append(fields, e.field)
		values = append(values, e.value)
	}
	return fields, values
}
