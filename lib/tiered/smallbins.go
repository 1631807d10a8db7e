package tiered

import (
	"encoding/binary"

	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/db"
)

// BinID identifies a sealed bin whose stash is in flight.
type BinID = uint32

const (
	// InvalidBin is the null bin id.
	InvalidBin BinID = ^BinID(0)
	// FragmentedBin is the sentinel id used to enqueue a whole-page read
	// for defragmentation; stashed bins no longer have ids of their own.
	FragmentedBin = InvalidBin - 1
)

const binHeaderSize = 2 // entry count

// KeyRef addresses an entry by identity instead of pointer, so an eviction
// racing an I/O completion is harmless.
type KeyRef struct {
	DB  db.DbIndex
	Key string
}

type binEntry struct {
	ref KeyRef
	raw []byte
}

// StashedEntry is one sub-entry of a stashed bin page.
type StashedEntry struct {
	Ref     KeyRef
	Segment core.DiskSegment
}

// SealedBin is a full bin ready to be written as one page.
type SealedBin struct {
	ID   BinID
	Page []byte
}

// DeleteResult describes the state of a bin page after one of its entries
// was deleted.
type DeleteResult struct {
	// Empty: the page holds no live entries and can be freed.
	Empty bool
	// Fragmented: the live ratio dropped below the threshold; the caller
	// should enqueue a defragmentation read of Bin.
	Fragmented bool
	Bin        core.DiskSegment
}

type stashedBin struct {
	usedBytes uint64
	liveBytes uint64
	live      int
	defragged bool // defrag read already enqueued
}

// smallBins batches values below the whole-page threshold into shared
// pages. All methods run on the shard executor.
type smallBins struct {
	current       []binEntry
	currentBytes  int
	nextID        BinID
	pending       map[BinID][]binEntry
	stashed       map[uint64]*stashedBin // keyed by page offset
	fragThreshold float64

	stashedBinsCnt    int
	stashedEntriesCnt int
}

func newSmallBins(fragThreshold float64) *smallBins {
	return &smallBins{
		currentBytes:  binHeaderSize,
		pending:       make(map[BinID][]binEntry),
		stashed:       make(map[uint64]*stashedBin),
		fragThreshold: fragThreshold,
	}
}

func binEntryBytes(key string, raw []byte) int {
	return 8 + len(key) + len(raw) // dbid + keyLen + valLen + key + value
}

// Stash adds an entry to the filling bin. When the page fills up, the
// sealed bin is returned for the caller to write out.
func (b *smallBins) Stash(dbid db.DbIndex, key string, raw []byte) (*SealedBin, bool) {
	var sealed *SealedBin
	if b.currentBytes+binEntryBytes(key, raw) > PageSize && len(b.current) > 0 {
		sealed = b.seal()
	}
	b.current = append(b.current, binEntry{ref: KeyRef{DB: dbid, Key: key}, raw: append([]byte(nil), raw...)})
	b.currentBytes += binEntryBytes(key, raw)
	return sealed, sealed != nil
}

// seal freezes the current bin into a page image.
func (b *smallBins) seal() *SealedBin {
	id := b.nextID
	b.nextID++

	page := make([]byte, PageSize)
	binary.LittleEndian.PutUint16(page[0:], uint16(len(b.current)))
	off := binHeaderSize
	for _, e := range b.current {
		binary.LittleEndian.PutUint16(page[off:], uint16(e.ref.DB))
		binary.LittleEndian.PutUint16(page[off+2:], uint16(len(e.ref.Key)))
		binary.LittleEndian.PutUint32(page[off+4:], uint32(len(e.raw)))
		copy(page[off+8:], e.ref.Key)
		off += 8 + len(e.ref.Key)
	}
	for _, e := range b.current {
		copy(page[off:], e.raw)
		off += len(e.raw)
	}

	b.pending[id] = b.current
	b.current = nil
	b.currentBytes = binHeaderSize
	return &SealedBin{ID: id, Page: page}
}

// parseBinPage decodes a page image into (ref, valLen) metadata plus the
// offset where the value area starts.
func parseBinPage(page []byte) (refs []KeyRef, valLens []uint32, valueStart int) {
	count := int(binary.LittleEndian.Uint16(page[0:]))
	off := binHeaderSize
	for i := 0; i < count; i++ {
		dbid := db.DbIndex(binary.LittleEndian.Uint16(page[off:]))
		keyLen := int(binary.LittleEndian.Uint16(page[off+2:]))
		valLen := binary.LittleEndian.Uint32(page[off+4:])
		key := string(page[off+8 : off+8+keyLen])
		refs = append(refs, KeyRef{DB: dbid, Key: key})
		valLens = append(valLens, valLen)
		off += 8 + keyLen
	}
	return refs, valLens, off
}

// ReportStashed resolves a completed bin stash: it registers the page for
// live-byte tracking and returns the sub-segment of every entry.
func (b *smallBins) ReportStashed(id BinID, seg core.DiskSegment) []StashedEntry {
	entries := b.pending[id]
	delete(b.pending, id)

	var out []StashedEntry
	used := uint64(0)
	// value area begins after the metadata table
	off := seg.Offset + uint64(binHeaderSize)
	for _, e := range entries {
		off += uint64(8 + len(e.ref.Key))
	}
	for _, e := range entries {
		out = append(out, StashedEntry{
			Ref:     e.ref,
			Segment: core.DiskSegment{Offset: off, Length: uint64(len(e.raw))},
		})
		off += uint64(len(e.raw))
		used += uint64(len(e.raw))
	}

	b.stashed[seg.Offset] = &stashedBin{usedBytes: used, liveBytes: used, live: len(entries)}
	b.stashedBinsCnt++
	b.stashedEntriesCnt += len(entries)
	return out
}

// ReportStashAborted drops a pending bin after a failed stash and returns
// the affected keys so their pending flags can be cleared.
func (b *smallBins) ReportStashAborted(id BinID) []KeyRef {
	entries := b.pending[id]
	delete(b.pending, id)
	refs := make([]KeyRef, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, e.ref)
	}
	return refs
}

// IsPending reports whether (dbid, key) sits in the filling bin or in a
// sealed bin whose stash has not completed.
func (b *smallBins) IsPending(dbid db.DbIndex, key string) bool {
	ref := KeyRef{DB: dbid, Key: key}
	for _, e := range b.current {
		if e.ref == ref {
			return true
		}
	}
	for _, entries := range b.pending {
		for _, e := range entries {
			if e.ref == ref {
				return true
			}
		}
	}
	return false
}

// DeletePending removes (dbid, key) from the filling or a sealed bin.
// Returns whether the entry was pending.
func (b *smallBins) DeletePending(dbid db.DbIndex, key string) bool {
	ref := KeyRef{DB: dbid, Key: key}
	for i, e := range b.current {
		if e.ref == ref {
			b.currentBytes -= binEntryBytes(e.ref.Key, e.raw)
			b.current = append(b.current[:i], b.current[i+1:]...)
			return true
		}
	}
	for id, entries := range b.pending {
		for i, e := range entries {
			if e.ref == ref {
				b.pending[id] = append(entries[:i], entries[i+1:]...)
				return true
			}
		}
	}
	return false
}

// MarkDead accounts bytes of a stashed sub-entry whose key disappeared
// before the completion landed.
func (b *smallBins) MarkDead(seg core.DiskSegment) {
	pageOff := seg.Offset - seg.Offset%PageSize
	if bin, ok := b.stashed[pageOff]; ok {
		bin.liveBytes -= seg.Length
		bin.live--
	}
}

// Delete accounts the removal of one stashed sub-entry and reports what to
// do with its page.
func (b *smallBins) Delete(seg core.DiskSegment) DeleteResult {
	pageOff := seg.Offset - seg.Offset%PageSize
	bin, ok := b.stashed[pageOff]
	res := DeleteResult{Bin: core.DiskSegment{Offset: pageOff, Length: PageSize}}
	if !ok {
		return res
	}
	bin.liveBytes -= seg.Length
	bin.live--

	if bin.live <= 0 {
		delete(b.stashed, pageOff)
		b.stashedBinsCnt--
		res.Empty = true
		return res
	}
	if !bin.defragged && float64(bin.liveBytes) < b.fragThreshold*float64(bin.usedBytes) {
		bin.defragged = true
		res.Fragmented = true
	}
	return res
}

// DeleteBin parses a fetched bin page, drops its tracking and returns the
// sub-entries so the caller can re-upload the survivors. Returns nil when
// the bin was already deleted.
func (b *smallBins) DeleteBin(seg core.DiskSegment, page []byte) []StashedEntry {
	bin, ok := b.stashed[seg.Offset]
	if !ok {
		return nil
	}
	delete(b.stashed, seg.Offset)
	b.stashedBinsCnt--
	b.stashedEntriesCnt -= bin.live

	refs, valLens, valueStart := parseBinPage(page)
	var out []StashedEntry
	off := seg.Offset + uint64(valueStart)
	for i, ref := range refs {
		out = append(out, StashedEntry{
			Ref:     ref,
			Segment: core.DiskSegment{Offset: off, Length: uint64(valLens[i])},
		})
		off += uint64(valLens[i])
	}
	return out
}

// BinsStats summarizes the bin state.
type BinsStats struct {
	StashedBinsCnt    int
	StashedEntriesCnt int
	CurrentBinBytes   int
}

func (b *smallBins) Stats() BinsStats {
	return BinsStats{
		StashedBinsCnt:    b.stashedBinsCnt,
		StashedEntriesCnt: b.stashedEntriesCnt,
		CurrentBinBytes:   b.currentBytes,
	}
}
