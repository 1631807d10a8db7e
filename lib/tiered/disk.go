package tiered

import (
	"os"
)

// PageSize is the allocation unit of the tiered file.
const PageSize = 4096

// DiskStats describes the allocator state.
type DiskStats struct {
	AllocatedBytes uint64
	CapacityBytes  uint64
	MaxFileSize    uint64
}

// diskFile is the append-allocated page file of one shard. Freed pages are
// recycled lowest-first through the page heap; multi-page blobs always
// allocate fresh pages at the tail.
type diskFile struct {
	f           *os.File
	pages       uint64 // file size in pages
	allocated   uint64 // allocated bytes (whole pages)
	maxFileSize uint64
	free        *pageHeap
}

func openDiskFile(path string, maxFileSize uint64) (*diskFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &diskFile{f: f, maxFileSize: maxFileSize, free: newPageHeap()}, nil
}

func (d *diskFile) Close() error {
	return d.f.Close()
}

func pagesFor(size uint64) uint64 {
	return (size + PageSize - 1) / PageSize
}

// Allocate reserves n contiguous pages and returns the byte offset.
func (d *diskFile) Allocate(n uint64) (uint64, bool) {
	if (d.pages+n)*PageSize > d.maxFileSize && !d.canReuse(n) {
		return 0, false
	}
	if n == 1 {
		if idx, ok := d.free.PopLowest(); ok {
			d.allocated += PageSize
			return idx * PageSize, true
		}
	}
	off := d.pages * PageSize
	d.pages += n
	d.allocated += n * PageSize
	return off, true
}

func (d *diskFile) canReuse(n uint64) bool {
	return n == 1 && d.free.Len() > 0
}

// Free returns the pages of a segment to the allocator.
func (d *diskFile) Free(offset, length uint64) {
	n := pagesFor(length)
	start := offset / PageSize
	for i := uint64(0); i < n; i++ {
		d.free.AddPage(start + i)
	}
	d.allocated -= n * PageSize
}

// WriteAt writes raw at the given byte offset.
func (d *diskFile) WriteAt(raw []byte, offset uint64) error {
	_, err := d.f.WriteAt(raw, int64(offset))
	return err
}

// ReadAt reads length bytes at offset.
func (d *diskFile) ReadAt(offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	_, err := d.f.ReadAt(buf, int64(offset))
	return buf, err
}

// Stats returns the allocator counters.
func (d *diskFile) Stats() DiskStats {
	return DiskStats{
		AllocatedBytes: d.allocated,
		CapacityBytes:  d.pages * PageSize,
		MaxFileSize:    d.maxFileSize,
	}
}
