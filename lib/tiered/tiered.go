package tiered

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/db"
)

var log = logger.GetLogger("tiered")

// MinOccupancySize is the value size from which a value occupies whole
// pages of its own instead of sharing a bin page.
const MinOccupancySize = PageSize / 2

// offloadMaxIterations bounds one background offloading sweep so the shard
// stays responsive.
const offloadMaxIterations = 500

// Options configures a shard's tiered storage.
type Options struct {
	MaxFileSize   uint64
	WriteDepth    int
	CacheFetched  bool
	MinValueSize  int
	FragThreshold float64
}

// Stats aggregates the tiering counters of one shard.
type Stats struct {
	TotalStashes        uint64
	TotalFetches        uint64
	TotalCancels        uint64
	TotalDefrags        uint64
	TotalDeletes        uint64
	TotalStashOverflows uint64

	PendingStashCnt int
	PendingReadCnt  int

	AllocatedBytes uint64
	CapacityBytes  uint64

	SmallBinsCnt         int
	SmallBinsEntriesCnt  int
	SmallBinsFillingSize int
}

// Storage is the tiered engine of one shard. Every method runs on the
// shard executor unless stated otherwise.
type Storage struct {
	slice *db.Slice
	om    *opManager
	bins  *smallBins
	opts  Options

	offloadCursor db.Cursor

	// snapshotGate reports whether a snapshot is in progress; uploads and
	// offloading pause while it returns true.
	snapshotGate func() bool

	stashOverflows uint64
	totalStashes   uint64
	totalFetches   uint64
	totalCancels   uint64
	totalDefrags   uint64
	totalDeletes   uint64

	mStashes *metrics.Counter
	mFetches *metrics.Counter
}

// New creates the tiered storage for slice. exec submits closures to the
// owning shard executor.
func New(slice *db.Slice, exec func(func()), opts Options) *Storage {
	if opts.FragThreshold <= 0 {
		opts.FragThreshold = 0.5
	}
	ts := &Storage{
		slice: slice,
		om:    newOpManager(exec),
		bins:  newSmallBins(opts.FragThreshold),
		opts:  opts,
	}
	ts.mStashes = metrics.GetOrCreateCounter(
		fmt.Sprintf(`finch_tiered_stashes_total{shard="%d"}`, slice.ShardID()))
	ts.mFetches = metrics.GetOrCreateCounter(
		fmt.Sprintf(`finch_tiered_fetches_total{shard="%d"}`, slice.ShardID()))
	return ts
}

// Open creates or truncates the shard page file.
func (ts *Storage) Open(path string) error {
	return ts.om.open(path, ts.opts.MaxFileSize)
}

// Close closes the page file.
func (ts *Storage) Close() error {
	return ts.om.close()
}

// SetSnapshotGate installs the snapshot-in-progress probe.
func (ts *Storage) SetSnapshotGate(gate func() bool) {
	ts.snapshotGate = gate
}

func (ts *Storage) snapshotting() bool {
	return ts.snapshotGate != nil && ts.snapshotGate()
}

// --------------------------------------------------------------------------
// Stats helpers
// --------------------------------------------------------------------------

// recordAdded is called before overriding a value with its segment.
func (ts *Storage) recordAdded(pv *core.CompactValue, tieredLen uint64, stats *db.TableStats) {
	stats.AddTypeMemory(pv.ObjType(), -int64(pv.MallocUsed()))
	stats.TieredEntries++
	stats.TieredUsedBytes += int64(tieredLen)
}

// recordDeleted is called after setting an in-memory value in place of its
// previous segment.
func (ts *Storage) recordDeleted(pv *core.CompactValue, tieredLen uint64, stats *db.TableStats) {
	stats.AddTypeMemory(pv.ObjType(), int64(pv.MallocUsed()))
	stats.TieredEntries--
	stats.TieredUsedBytes -= int64(tieredLen)
}

// --------------------------------------------------------------------------
// Lookup helpers
// --------------------------------------------------------------------------

// find resolves a key ref, bypassing the update and stats machinery.
func (ts *Storage) find(ref KeyRef) *core.CompactValue {
	it := ts.slice.GetTable(ref.DB).Prime.Find([]byte(ref.Key))
	if !it.IsValid() {
		return nil
	}
	return it.Value()
}

// --------------------------------------------------------------------------
// Stash pipeline
// --------------------------------------------------------------------------

// shouldStash checks the preconditions for offloading a value.
func (ts *Storage) shouldStash(pv *core.CompactValue) bool {
	if pv.IsExternal() || pv.HasIoPending() || pv.IsSticky() {
		return false
	}
	if pv.ObjType() != core.ObjString || pv.Size() < ts.opts.MinValueSize {
		return false
	}
	ds := ts.om.diskStats()
	return ds.AllocatedBytes+PageSize+uint64(pv.Size()) < ds.MaxFileSize
}

// TryStash offloads value if it is eligible. Returns whether a stash was
// issued (or queued into a bin).
func (ts *Storage) TryStash(dbid db.DbIndex, key string, value *core.CompactValue) bool {
	if !ts.shouldStash(value) {
		return false
	}

	if ts.om.pendingStash >= ts.opts.WriteDepth {
		ts.stashOverflows++
		return false
	}

	raw, _ := value.GetRawString()
	value.SetIoPending(true)

	if occupiesWholePages(uint64(len(raw))) {
		id := keyID(KeyRef{DB: dbid, Key: key})
		err := ts.om.stash(raw, func(seg core.DiskSegment, err error) {
			ts.notifyStashed(id, seg, err)
		})
		if err != nil {
			log.Errorf("shard %d: stash failed immediately: %v", ts.slice.ShardID(), err)
			value.SetIoPending(false)
			return false
		}
		return true
	}

	sealed, _ := ts.bins.Stash(dbid, key, raw)
	if sealed != nil {
		id := binID(sealed.ID)
		err := ts.om.stash(sealed.Page, func(seg core.DiskSegment, err error) {
			ts.notifyStashed(id, seg, err)
		})
		if err != nil {
			log.Errorf("shard %d: bin stash failed immediately: %v", ts.slice.ShardID(), err)
			ts.clearIoPendingBin(sealed.ID)
			return true // the current entry itself is still queued
		}
	}
	return true
}

// clearIoPending clears the pending flag of one entry.
func (ts *Storage) clearIoPending(ref KeyRef) {
	if pv := ts.find(ref); pv != nil {
		pv.SetIoPending(false)
		ts.totalCancels++
	}
}

// clearIoPendingBin clears the pending flags of every entry of a bin.
func (ts *Storage) clearIoPendingBin(id BinID) {
	for _, ref := range ts.bins.ReportStashAborted(id) {
		ts.clearIoPending(ref)
	}
}

// setExternal installs the segment descriptor for one entry.
func (ts *Storage) setExternal(ref KeyRef, seg core.DiskSegment) {
	pv := ts.find(ref)
	if pv == nil || !pv.HasIoPending() {
		// the key vanished or the stash was cancelled while in flight
		if occupiesWholePages(seg.Length) {
			ts.om.freeSegment(seg)
		} else {
			ts.bins.MarkDead(seg)
		}
		return
	}
	ts.recordAdded(pv, seg.Length, ts.slice.MutableStats(ref.DB))
	pv.SetIoPending(false)
	pv.SetExternal(seg.Offset, seg.Length)
	ts.totalStashes++
	ts.mStashes.Inc()
}

// notifyStashed lands a completed stash on the shard executor.
func (ts *Storage) notifyStashed(id entryID, seg core.DiskSegment, err error) {
	if err != nil {
		log.Warningf("shard %d: stash failed: %v", ts.slice.ShardID(), err)
		if id.isBin {
			ts.clearIoPendingBin(id.bin)
		} else {
			ts.clearIoPending(id.ref)
		}
		return
	}
	if id.isBin {
		for _, sub := range ts.bins.ReportStashed(id.bin, seg) {
			ts.setExternal(sub.Ref, sub.Segment)
		}
	} else {
		ts.setExternal(id.ref, seg)
	}
}

// CancelStash aborts an in-flight stash for value; the entry stays in
// memory.
func (ts *Storage) CancelStash(dbid db.DbIndex, key string, value *core.CompactValue) {
	if !value.HasIoPending() {
		return
	}
	if !occupiesWholePages(uint64(value.Size())) {
		ts.bins.DeletePending(dbid, key)
	}
	value.SetIoPending(false)
	ts.totalCancels++
}

// --------------------------------------------------------------------------
// Read and modify pipelines
// --------------------------------------------------------------------------

// Read fetches an external value and resolves the future with the decoded
// string. The value may be uploaded back to memory when caching is on.
func (ts *Storage) Read(dbid db.DbIndex, key string, value *core.CompactValue) Future[string] {
	fut := NewFuture[string]()

	var decoder core.CompactValue
	decoder.ImportExternal(value)
	seg := value.GetExternalSlice()
	id := keyID(KeyRef{DB: dbid, Key: key})

	ts.om.fetch(seg, func(raw []byte, err error) {
		if err != nil {
			log.Errorf("shard %d: fetch failed: %v", ts.slice.ShardID(), err)
			fut.Resolve("")
			return
		}
		decoder.Materialize(raw, true)
		fut.Resolve(decoder.ToString())
		ts.notifyFetched(id, raw, seg, false, nil)
	})
	return fut
}

// Modify fetches an external value, lets fn mutate the decoded string and
// resolves the future with fn's result. The modified value is re-uploaded
// into memory and the old segment is freed.
func Modify[T any](ts *Storage, dbid db.DbIndex, key string, value *core.CompactValue,
	fn func(val *[]byte) T) Future[T] {

	fut := NewFuture[T]()

	var decoder core.CompactValue
	decoder.ImportExternal(value)
	seg := value.GetExternalSlice()
	id := keyID(KeyRef{DB: dbid, Key: key})

	ts.om.fetch(seg, func(raw []byte, err error) {
		if err != nil {
			log.Errorf("shard %d: fetch for modify failed: %v", ts.slice.ShardID(), err)
			var zero T
			fut.Resolve(zero)
			return
		}
		decoder.Materialize(raw, true)
		val := decoder.GetString(nil)
		fut.Resolve(fn(&val))
		ts.notifyFetched(id, raw, seg, true, val)
	})
	return fut
}

// upload sets the value back to an in-memory representation.
func (ts *Storage) upload(dbid db.DbIndex, val []byte, isRaw bool, serializedLen uint64, pv *core.CompactValue) {
	pv.Materialize(val, isRaw)
	ts.recordDeleted(pv, serializedLen, ts.slice.MutableStats(dbid))
}

// notifyFetched decides what happens to a fetched value: defragmentation
// for the bin sentinel, re-upload for modified values and opportunistic
// caching for plain reads.
func (ts *Storage) notifyFetched(id entryID, raw []byte, seg core.DiskSegment, modified bool, modVal []byte) {
	ts.totalFetches++
	ts.mFetches.Inc()

	if id.isBin && id.bin == FragmentedBin {
		ts.defragment(seg, raw)
		ts.om.freeSegment(seg)
		return
	}

	shouldUpload := modified || (ts.opts.CacheFetched && !ts.snapshotting())
	if !shouldUpload {
		return
	}

	pv := ts.find(id.ref)
	if pv == nil || !pv.IsExternal() || pv.GetExternalSlice() != seg {
		// raced with a delete or overwrite; nothing to upload into
		return
	}
	if modified {
		ts.upload(id.ref.DB, modVal, false, seg.Length, pv)
	} else {
		ts.upload(id.ref.DB, raw, true, seg.Length, pv)
	}
	ts.deleteSegment(seg)
}

// --------------------------------------------------------------------------
// Deletion and defragmentation
// --------------------------------------------------------------------------

// Delete releases the segment of an external value on explicit deletion.
func (ts *Storage) Delete(dbid db.DbIndex, value *core.CompactValue) {
	seg := value.GetExternalSlice()
	ts.totalDeletes++
	ts.deleteSegment(seg)
	stats := ts.slice.MutableStats(dbid)
	stats.TieredEntries--
	stats.TieredUsedBytes -= int64(seg.Length)
}

// deleteSegment returns a segment to the allocator, handling the small-bin
// bookkeeping.
func (ts *Storage) deleteSegment(seg core.DiskSegment) {
	if occupiesWholePages(seg.Length) {
		ts.om.freeSegment(seg)
		return
	}
	res := ts.bins.Delete(seg)
	if res.Empty {
		ts.om.freeSegment(res.Bin)
		return
	}
	if res.Fragmented {
		log.Debugf("shard %d: enqueueing bin defragmentation at %d", ts.slice.ShardID(), res.Bin.Offset)
		id := binID(FragmentedBin)
		ts.om.fetch(res.Bin, func(raw []byte, err error) {
			if err != nil {
				log.Errorf("shard %d: defrag read failed: %v", ts.slice.ShardID(), err)
				return
			}
			ts.notifyFetched(id, raw, res.Bin, false, nil)
		})
	}
}

// defragment re-uploads every entry of a fetched bin page that still
// points at its sub-segment, then the caller frees the page.
func (ts *Storage) defragment(seg core.DiskSegment, page []byte) {
	for _, sub := range ts.bins.DeleteBin(seg, page) {
		it := ts.slice.GetTable(sub.Ref.DB).Prime.Find([]byte(sub.Ref.Key))
		if !it.IsValid() {
			continue
		}
		pv := it.Value()
		if !pv.IsExternal() || pv.GetExternalSlice() != sub.Segment {
			continue
		}
		ts.totalDefrags++
		val := page[sub.Segment.Offset-seg.Offset : sub.Segment.Offset-seg.Offset+sub.Segment.Length]
		ts.upload(sub.Ref.DB, val, true, sub.Segment.Length, pv)
	}
}

// --------------------------------------------------------------------------
// Background offloading
// --------------------------------------------------------------------------

// RunOffloading sweeps the prime table in segment order and stashes
// eligible entries until the write depth ceiling, the iteration budget or
// a full wrap stops it.
func (ts *Storage) RunOffloading(dbid db.DbIndex) {
	if ts.snapshotting() {
		return
	}
	ds := ts.om.diskStats()
	if ds.AllocatedBytes+offloadMaxIterations/2*PageSize > ds.MaxFileSize {
		return
	}

	table := ts.slice.GetTable(dbid).Prime
	start := ts.offloadCursor
	var scratch []byte

	iterations := 0
	for {
		if ts.om.pendingStash >= ts.opts.WriteDepth {
			break
		}
		ts.offloadCursor = table.TraverseBySegmentOrder(ts.offloadCursor, func(it db.Iterator) {
			pv := it.Value()
			// SIEVE: recently touched entries get a second chance
			if pv.WasTouched() {
				pv.SetTouched(false)
				return
			}
			ts.TryStash(dbid, string(it.Key().GetSlice(&scratch)), pv)
		})
		iterations++
		if ts.offloadCursor == start || iterations >= offloadMaxIterations {
			break
		}
	}
}

// WriteDepthUsage returns the in-flight stash ratio against the limit.
func (ts *Storage) WriteDepthUsage() float64 {
	return float64(ts.om.pendingStash) / float64(ts.opts.WriteDepth)
}

// GetStats snapshots all counters.
func (ts *Storage) GetStats() Stats {
	ds := ts.om.diskStats()
	bs := ts.bins.Stats()
	return Stats{
		TotalStashes:         ts.totalStashes,
		TotalFetches:         ts.totalFetches,
		TotalCancels:         ts.totalCancels,
		TotalDefrags:         ts.totalDefrags,
		TotalDeletes:         ts.totalDeletes,
		TotalStashOverflows:  ts.stashOverflows,
		PendingStashCnt:      ts.om.pendingStash,
		PendingReadCnt:       ts.om.pendingRead,
		AllocatedBytes:       ds.AllocatedBytes,
		CapacityBytes:        ds.CapacityBytes,
		SmallBinsCnt:         bs.StashedBinsCnt,
		SmallBinsEntriesCnt:  bs.StashedEntriesCnt,
		SmallBinsFillingSize: bs.CurrentBinBytes,
	}
}

func occupiesWholePages(size uint64) bool {
	return size >= MinOccupancySize
}
