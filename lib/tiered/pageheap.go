package tiered

import "container/heap"

// --------------------------------------------------------------------------
// Free page heap
// --------------------------------------------------------------------------

// freePage is one reusable page of the tiered file.
type freePage struct {
	pageIdx uint64 // page index in the file
	index   int    // position in the heap slice, maintained by heap package
}

// pageHeap combines a min-heap over page indices with a map for O(1)
// membership checks, so the allocator always reuses the lowest free page
// (keeping the file compact) and can drop a specific page from the free set
// when a range allocation claims it.
type pageHeap struct {
	items []*freePage
	byIdx map[uint64]*freePage
}

func newPageHeap() *pageHeap {
	return &pageHeap{byIdx: make(map[uint64]*freePage)}
}

func (h *pageHeap) Len() int { return len(h.items) }

func (h *pageHeap) Less(i, j int) bool {
	return h.items[i].pageIdx < h.items[j].pageIdx
}

func (h *pageHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *pageHeap) Push(x interface{}) {
	it := x.(*freePage)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.byIdx[it.pageIdx] = it
}

func (h *pageHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.byIdx, it.pageIdx)
	return it
}

// AddPage marks a page as free. Adding a page twice is a no-op.
func (h *pageHeap) AddPage(pageIdx uint64) {
	if _, exists := h.byIdx[pageIdx]; exists {
		return
	}
	heap.Push(h, &freePage{pageIdx: pageIdx})
}

// PopLowest removes and returns the lowest free page.
func (h *pageHeap) PopLowest() (uint64, bool) {
	if len(h.items) == 0 {
		return 0, false
	}
	it := heap.Pop(h).(*freePage)
	return it.pageIdx, true
}

// Contains reports whether pageIdx is free.
func (h *pageHeap) Contains(pageIdx uint64) bool {
	_, exists := h.byIdx[pageIdx]
	return exists
}

// Remove drops a specific page from the free set.
func (h *pageHeap) Remove(pageIdx uint64) bool {
	it, exists := h.byIdx[pageIdx]
	if !exists {
		return false
	}
	heap.Remove(h, it.index)
	return true
}
