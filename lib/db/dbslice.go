package db

import (
	"github.com/lni/dragonboat/v4/logger"

	"github.com/finchdb/finch/lib/core"
)

var log = logger.GetLogger("db")

// DbIndex identifies a logical database within a shard.
type DbIndex uint16

// Context carries the logical database and the transaction time into shard
// callbacks.
type Context struct {
	DB        DbIndex
	TimeNowMs uint64
}

// --------------------------------------------------------------------------
// Change notifications
// --------------------------------------------------------------------------

// ChangeReq describes one mutation to a registered observer: either an
// in-place update of an existing bucket (UpdateIt valid) or a key that is
// about to be added or has just been deleted (Key set).
type ChangeReq struct {
	UpdateIt Iterator
	Key      []byte
}

// ChangeCallback observes slice mutations. Callbacks run on the shard
// executor, before the mutation is applied for new keys and after it for
// updates and deletions.
type ChangeCallback func(DbIndex, ChangeReq)

// --------------------------------------------------------------------------
// Table and Slice
// --------------------------------------------------------------------------

// Table is one logical database: the prime table, the expire table and the
// statistics that describe them.
type Table struct {
	Prime  *PrimeTable
	Expire *PrimeTable // value cells hold the absolute deadline ms as int
	Stats  TableStats
}

// Slice is the per-shard database array.
type Slice struct {
	shardID   uint32
	tables    []*Table
	callbacks []registeredCallback
	nextCbVer uint64
	expCursor Cursor

	// deleteHook runs before an external or io-pending value is removed,
	// so the tiered layer can release its disk segment or cancel the
	// in-flight stash.
	deleteHook func(DbIndex, []byte, *core.CompactValue)
}

// SetDeleteHook installs the tiered cleanup hook.
func (s *Slice) SetDeleteHook(hook func(DbIndex, []byte, *core.CompactValue)) {
	s.deleteHook = hook
}

type registeredCallback struct {
	ver uint64
	cb  ChangeCallback
}

// NewSlice creates a slice with ndb logical databases.
func NewSlice(shardID uint32, ndb int) *Slice {
	s := &Slice{shardID: shardID}
	for i := 0; i < ndb; i++ {
		t := &Table{Prime: NewPrimeTable(), Expire: NewPrimeTable()}
		t.Stats.registerGauges(shardID, DbIndex(i))
		s.tables = append(s.tables, t)
	}
	return s
}

// ShardID returns the owning shard id.
func (s *Slice) ShardID() uint32 { return s.shardID }

// GetTable returns the logical database dbid.
func (s *Slice) GetTable(dbid DbIndex) *Table {
	return s.tables[dbid]
}

// MutableStats returns the stats of dbid for direct accounting.
func (s *Slice) MutableStats(dbid DbIndex) *TableStats {
	return &s.tables[dbid].Stats
}

// --------------------------------------------------------------------------
// Change registry
// --------------------------------------------------------------------------

// RegisterOnChange registers cb and returns its version handle.
func (s *Slice) RegisterOnChange(cb ChangeCallback) uint64 {
	s.nextCbVer++
	s.callbacks = append(s.callbacks, registeredCallback{ver: s.nextCbVer, cb: cb})
	return s.nextCbVer
}

// UnregisterOnChange removes the callback registered under ver.
func (s *Slice) UnregisterOnChange(ver uint64) {
	for i := range s.callbacks {
		if s.callbacks[i].ver == ver {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			return
		}
	}
}

func (s *Slice) fireUpdate(dbid DbIndex, it Iterator) {
	for _, rc := range s.callbacks {
		rc.cb(dbid, ChangeReq{UpdateIt: it})
	}
}

func (s *Slice) fireNewKey(dbid DbIndex, key []byte) {
	for _, rc := range s.callbacks {
		rc.cb(dbid, ChangeReq{Key: key})
	}
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

func deadlineCell(ms uint64) core.CompactValue {
	return core.NewInt(int64(ms))
}

// SetExpire installs an absolute millisecond deadline for key. A zero
// deadline removes the expiry.
func (s *Slice) SetExpire(ctx Context, it Iterator, deadlineMs uint64) {
	t := s.tables[ctx.DB]
	var scratch []byte
	key := it.Key().GetSlice(&scratch)
	if deadlineMs == 0 {
		if eit := t.Expire.Find(key); eit.IsValid() {
			t.Expire.Delete(eit)
		}
		it.Value().SetExpire(false)
		return
	}
	eit, _ := t.Expire.AddOrFind(key)
	*eit.Value() = deadlineCell(deadlineMs)
	it.Value().SetExpire(true)
}

// ExpireTime returns the deadline of key, or 0.
func (s *Slice) ExpireTime(ctx Context, key []byte) uint64 {
	eit := s.tables[ctx.DB].Expire.Find(key)
	if !eit.IsValid() {
		return 0
	}
	v, _ := eit.Value().TryGetInt()
	return uint64(v)
}

// expireIfNeeded deletes the entry when its deadline passed. Returns true
// if the entry was expired and removed.
func (s *Slice) expireIfNeeded(ctx Context, it Iterator) bool {
	if !it.Value().HasExpire() {
		return false
	}
	var scratch []byte
	deadline := s.ExpireTime(ctx, it.Key().GetSlice(&scratch))
	if deadline == 0 || deadline > ctx.TimeNowMs {
		return false
	}
	s.Del(ctx, it)
	return true
}

// ExpireCycle samples up to budget expire-table buckets and removes the
// entries whose deadline passed. Called periodically by the shard executor.
func (s *Slice) ExpireCycle(ctx Context, budget int) int {
	t := s.tables[ctx.DB]
	removed := 0
	for i := 0; i < budget; i++ {
		var dead [][]byte
		s.expCursor = t.Expire.Traverse(s.expCursor, func(eit Iterator) {
			v, _ := eit.Value().TryGetInt()
			if uint64(v) <= ctx.TimeNowMs {
				var scratch []byte
				dead = append(dead, append([]byte(nil), eit.Key().GetSlice(&scratch)...))
			}
		})
		for _, key := range dead {
			if it := t.Prime.Find(key); it.IsValid() {
				s.Del(ctx, it)
				removed++
			} else if eit := t.Expire.Find(key); eit.IsValid() {
				t.Expire.Delete(eit)
			}
		}
		if s.expCursor == 0 {
			break
		}
	}
	return removed
}

// --------------------------------------------------------------------------
// Lookup API
// --------------------------------------------------------------------------

func typeMatches(v *core.CompactValue, want core.ObjType, checkType bool) bool {
	return !checkType || v.ObjType() == want
}

// FindReadOnly resolves key for reading. Expired keys are deleted and
// reported as missing. The touched bit is set for the offloading sweep.
func (s *Slice) FindReadOnly(ctx Context, key []byte, wantType core.ObjType) (Iterator, OpStatus) {
	return s.find(ctx, key, wantType, true)
}

// FindReadOnlyAnyType resolves key without a type expectation.
func (s *Slice) FindReadOnlyAnyType(ctx Context, key []byte) (Iterator, OpStatus) {
	return s.find(ctx, key, 0, false)
}

func (s *Slice) find(ctx Context, key []byte, wantType core.ObjType, checkType bool) (Iterator, OpStatus) {
	t := s.tables[ctx.DB]
	it := t.Prime.Find(key)
	if !it.IsValid() {
		return Iterator{}, StatusKeyNotFound
	}
	if s.expireIfNeeded(ctx, it) {
		return Iterator{}, StatusKeyNotFound
	}
	if !typeMatches(it.Value(), wantType, checkType) {
		return Iterator{}, StatusWrongType
	}
	it.Value().SetTouched(true)
	return it, StatusOK
}

// PostUpdater finalizes a mutable access: it fires the change callbacks,
// bumps the bucket version and refreshes the memory accounting. Run must be
// called exactly once after the mutation.
type PostUpdater struct {
	ran bool
	fn  func()
}

// Run fires the updater. A second call is a logic error and panics in
// order to surface the bug early.
func (p *PostUpdater) Run() {
	if p.ran {
		panic("PostUpdater.Run called twice")
	}
	p.ran = true
	if p.fn != nil {
		p.fn()
	}
}

// ItAndUpdater bundles a mutable iterator with its post updater.
type ItAndUpdater struct {
	It          Iterator
	PostUpdater *PostUpdater
}

// FindMutable resolves key for mutation.
func (s *Slice) FindMutable(ctx Context, key []byte, wantType core.ObjType) (ItAndUpdater, OpStatus) {
	it, status := s.find(ctx, key, wantType, true)
	if status != StatusOK {
		return ItAndUpdater{}, status
	}
	return ItAndUpdater{It: it, PostUpdater: s.postUpdater(ctx, it)}, StatusOK
}

func (s *Slice) postUpdater(ctx Context, it Iterator) *PostUpdater {
	stats := s.MutableStats(ctx.DB)
	oldMem := int64(it.Value().MallocUsed())
	oldSize := it.Value().Size()
	typ := it.Value().ObjType()
	return &PostUpdater{fn: func() {
		stats.AddTypeMemory(typ, -oldMem)
		stats.SizeHist.RemoveSample(oldSize)
		if it.IsValid() {
			stats.AddTypeMemory(it.Value().ObjType(), int64(it.Value().MallocUsed()))
			stats.SizeHist.AddSample(it.Value().Size())
		}
		it.BumpVersion()
		s.fireUpdate(ctx.DB, it)
	}}
}

// AddResult is the outcome of AddOrFind.
type AddResult struct {
	It          Iterator
	IsNew       bool
	PostUpdater *PostUpdater
}

// AddOrFind resolves key, creating an empty entry when absent. New keys
// fire the new-key change notification before insertion so snapshot
// consumers can serialize the destination bucket first.
func (s *Slice) AddOrFind(ctx Context, key []byte) (AddResult, OpStatus) {
	t := s.tables[ctx.DB]

	if it := t.Prime.Find(key); it.IsValid() {
		if !s.expireIfNeeded(ctx, it) {
			return AddResult{It: it, PostUpdater: s.postUpdater(ctx, it)}, StatusOK
		}
	}

	s.fireNewKey(ctx.DB, key)
	it, isNew := t.Prime.AddOrFind(key)
	if !isNew {
		log.Errorf("shard %d: AddOrFind raced itself for key %q", s.shardID, key)
	}
	stats := s.MutableStats(ctx.DB)
	stats.AddTypeCount(core.ObjString, 1)
	return AddResult{It: it, IsNew: true, PostUpdater: &PostUpdater{fn: func() {
		// the value was initialized after insertion; account for its real
		// type now
		stats.AddTypeCount(core.ObjString, -1)
		stats.OnValueAdded(it.Value())
		it.BumpVersion()
		s.fireUpdate(ctx.DB, it)
	}}}, StatusOK
}

// Del removes the entry addressed by it, its expiry and its stats.
func (s *Slice) Del(ctx Context, it Iterator) {
	t := s.tables[ctx.DB]
	var scratch []byte
	key := it.Key().GetSlice(&scratch)

	if eit := t.Expire.Find(key); eit.IsValid() {
		t.Expire.Delete(eit)
	}
	if s.deleteHook != nil && (it.Value().IsExternal() || it.Value().HasIoPending()) {
		s.deleteHook(ctx.DB, key, it.Value())
	}
	t.Stats.OnValueRemoved(it.Value())
	it.Value().Reset()
	t.Prime.Delete(it)
	it.BumpVersion()
	s.fireNewKey(ctx.DB, key) // deletion notification carries the key view
}

// Traverse walks the prime table of dbid. See PrimeTable.Traverse for the
// cursor contract.
func (s *Slice) Traverse(dbid DbIndex, c Cursor, fn func(Iterator)) Cursor {
	return s.tables[dbid].Prime.Traverse(c, fn)
}
