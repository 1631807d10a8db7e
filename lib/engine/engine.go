package engine

import (
	"fmt"

	"github.com/finchdb/finch/lib/config"
	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/db"
	"github.com/finchdb/finch/lib/journal"
	"github.com/finchdb/finch/lib/tiered"
)

// Engine is the shard set: the owner of all executors plus the global
// coordinator state shared between them.
type Engine struct {
	cfg      *config.Config
	shards   []*EngineShard
	seed     uint64
	blocking *BlockingController
	txSeq    txIDSource
}

// New creates the shard set described by cfg. When cfg.TieredPath is set
// every shard opens its own page file at <TieredPath><shard_index>.
func New(cfg *config.Config) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		seed:     core.GenerateSeed(),
		blocking: newBlockingController(),
	}
	for i := 0; i < cfg.NumShards; i++ {
		shard := newShard(uint32(i), db.NewSlice(uint32(i), 1))
		if cfg.TieredPath != "" {
			ts := tiered.New(shard.slice, shard.Execute, tiered.Options{
				MaxFileSize:   cfg.TieredMaxFileSize,
				WriteDepth:    cfg.TieredWriteDepth,
				CacheFetched:  cfg.TieredCacheFetched,
				MinValueSize:  cfg.TieredMinValueSize,
				FragThreshold: cfg.TieredFragThreshold,
			})
			path := fmt.Sprintf("%s%d", cfg.TieredPath, i)
			if err := ts.Open(path); err != nil {
				e.Close()
				return nil, err
			}
			shard.tiered = ts
			// deleting an external or in-flight value must release its
			// disk segment or cancel the stash
			shard.slice.SetDeleteHook(func(dbid db.DbIndex, key []byte, pv *core.CompactValue) {
				if pv.HasIoPending() {
					ts.CancelStash(dbid, string(key), pv)
				}
				if pv.IsExternal() {
					ts.Delete(dbid, pv)
				}
			})
		}
		shard.journal = journal.New(uint32(i))
		e.shards = append(e.shards, shard)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// NumShards returns the shard count.
func (e *Engine) NumShards() int { return len(e.shards) }

// Shard returns the shard with the given index.
func (e *Engine) Shard(i uint32) *EngineShard { return e.shards[i] }

// ShardForKey maps a key to its owning shard.
func (e *Engine) ShardForKey(key []byte) uint32 {
	return uint32(core.HashBytes(key, e.seed) % uint64(len(e.shards)))
}

// Blocking returns the blocking controller.
func (e *Engine) Blocking() *BlockingController { return e.blocking }

// Close stops all shard executors and releases their resources.
func (e *Engine) Close() {
	for _, s := range e.shards {
		s.close()
	}
}
