package db

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/finchdb/finch/lib/core"
)

// --------------------------------------------------------------------------
// Per-table statistics
// --------------------------------------------------------------------------

// TableStats aggregates memory and count accounting for one logical
// database of a shard. Every mutation that changes the physical
// representation of a value must subtract the old numbers and add the new
// ones.
type TableStats struct {
	// ObjMemUsage tracks heap bytes per object type.
	ObjMemUsage [8]int64
	// ObjCount tracks key counts per object type.
	ObjCount [8]int64

	ListpackBlobCnt int64
	ListpackBytes   int64

	TieredEntries   int64
	TieredUsedBytes int64

	SizeHist SizeHistogram
}

// AddTypeMemory accounts delta heap bytes for a value of the given type.
func (s *TableStats) AddTypeMemory(t core.ObjType, delta int64) {
	s.ObjMemUsage[t] += delta
}

// AddTypeCount accounts key count changes for the given type.
func (s *TableStats) AddTypeCount(t core.ObjType, delta int64) {
	s.ObjCount[t] += delta
}

// OnValueAdded records a freshly stored value.
func (s *TableStats) OnValueAdded(v *core.CompactValue) {
	s.AddTypeMemory(v.ObjType(), int64(v.MallocUsed()))
	s.AddTypeCount(v.ObjType(), 1)
	s.SizeHist.AddSample(v.Size())
}

// OnValueRemoved forgets a value that is being deleted or replaced.
func (s *TableStats) OnValueRemoved(v *core.CompactValue) {
	s.AddTypeMemory(v.ObjType(), -int64(v.MallocUsed()))
	s.AddTypeCount(v.ObjType(), -1)
	s.SizeHist.RemoveSample(v.Size())
}

// registerGauges publishes the hot stats fields of one shard database to
// the process metrics set.
func (s *TableStats) registerGauges(shardID uint32, dbid DbIndex) {
	label := func(name string) string {
		return fmt.Sprintf(`finch_%s{shard="%d",db="%d"}`, name, shardID, dbid)
	}
	metrics.GetOrCreateGauge(label("listpack_blobs"), func() float64 {
		return float64(s.ListpackBlobCnt)
	})
	metrics.GetOrCreateGauge(label("listpack_bytes"), func() float64 {
		return float64(s.ListpackBytes)
	})
	metrics.GetOrCreateGauge(label("tiered_entries"), func() float64 {
		return float64(s.TieredEntries)
	})
	metrics.GetOrCreateGauge(label("tiered_used_bytes"), func() float64 {
		return float64(s.TieredUsedBytes)
	})
}
