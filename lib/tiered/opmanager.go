package tiered

import (
	"errors"

	"github.com/finchdb/finch/lib/core"
)

// entryID identifies the subject of an in-flight operation: a single key
// (whole-page values, bin sub-entry reads) or a whole bin.
type entryID struct {
	ref   KeyRef
	bin   BinID
	isBin bool
}

func keyID(ref KeyRef) entryID { return entryID{ref: ref, bin: InvalidBin} }
func binID(id BinID) entryID   { return entryID{bin: id, isBin: true} }

var errDiskFull = errors.New("tiered: page file is full")

// opManager owns the page file of one shard and schedules its raw reads
// and writes. Bookkeeping runs on the shard executor; only the file I/O
// itself happens on detached goroutines, which re-enter the executor via
// exec to deliver completions.
type opManager struct {
	disk *diskFile
	exec func(func())

	pendingStash int
	pendingRead  int
}

func newOpManager(exec func(func())) *opManager {
	return &opManager{exec: exec}
}

func (om *opManager) open(path string, maxFileSize uint64) error {
	d, err := openDiskFile(path, maxFileSize)
	if err != nil {
		return err
	}
	om.disk = d
	return nil
}

func (om *opManager) close() error {
	if om.disk == nil {
		return nil
	}
	return om.disk.Close()
}

// stash allocates pages for raw and writes it out. done runs on the shard
// executor with the resulting segment.
func (om *opManager) stash(raw []byte, done func(seg core.DiskSegment, err error)) error {
	pages := pagesFor(uint64(len(raw)))
	off, ok := om.disk.Allocate(pages)
	if !ok {
		return errDiskFull
	}
	seg := core.DiskSegment{Offset: off, Length: uint64(len(raw))}

	om.pendingStash++
	buf := append([]byte(nil), raw...)
	go func() {
		err := om.disk.WriteAt(buf, seg.Offset)
		om.exec(func() {
			om.pendingStash--
			if err != nil {
				om.disk.Free(seg.Offset, seg.Length)
			}
			done(seg, err)
		})
	}()
	return nil
}

// fetch reads a segment. done runs on the shard executor with the raw
// bytes.
func (om *opManager) fetch(seg core.DiskSegment, done func(raw []byte, err error)) {
	om.pendingRead++
	go func() {
		raw, err := om.disk.ReadAt(seg.Offset, seg.Length)
		om.exec(func() {
			om.pendingRead--
			done(raw, err)
		})
	}()
}

func (om *opManager) freeSegment(seg core.DiskSegment) {
	om.disk.Free(seg.Offset, seg.Length)
}

func (om *opManager) diskStats() DiskStats {
	return om.disk.Stats()
}
