package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/finchdb/finch/lib/db"
)

// hopTimer tracks shard hop latency across all transactions.
var hopTimer = gometrics.GetOrRegisterTimer("engine.hop.latency", nil)

type txIDSource struct {
	next atomic.Uint64
}

func (s *txIDSource) get() uint64 { return s.next.Add(1) }

// OpArgs is what a hop callback receives on the shard executor.
type OpArgs struct {
	Shard *EngineShard
	Ctx   db.Context
}

// Slice is a convenience accessor for the shard database.
func (a OpArgs) Slice() *db.Slice { return a.Shard.Slice() }

// Hop is one shard-local step of a transaction. It runs to completion on
// the shard executor and must not block on other shards.
type Hop func(tx *Transaction, args OpArgs) db.OpStatus

// Transaction is a structured handle over one command's key set.
type Transaction struct {
	engine *Engine
	txid   uint64
	dbid   db.DbIndex
	timeMs uint64
	write  bool

	keys     [][]byte
	shardKey map[uint32][][]byte
	// lockOrder is the ascending shard id sequence locks are taken in.
	lockOrder []uint32
	scheduled bool
	concluded bool

	ctx context.Context
}

// NewTransaction builds a transaction over keys. write marks transactions
// whose conclusion must wake blocked watchers.
func (e *Engine) NewTransaction(ctx context.Context, dbid db.DbIndex, write bool, keys ...[]byte) *Transaction {
	tx := &Transaction{
		engine:   e,
		txid:     e.txSeq.get(),
		dbid:     dbid,
		timeMs:   nowMs(),
		write:    write,
		keys:     keys,
		shardKey: make(map[uint32][][]byte),
		ctx:      ctx,
	}
	for _, k := range keys {
		sid := e.ShardForKey(k)
		tx.shardKey[sid] = append(tx.shardKey[sid], k)
	}
	for sid := range tx.shardKey {
		tx.lockOrder = append(tx.lockOrder, sid)
	}
	sort.Slice(tx.lockOrder, func(i, j int) bool { return tx.lockOrder[i] < tx.lockOrder[j] })
	return tx
}

// TxID returns the transaction id.
func (tx *Transaction) TxID() uint64 { return tx.txid }

// Keys returns the full key set of the transaction.
func (tx *Transaction) Keys() [][]byte { return tx.keys }

// ShardKeys returns the keys owned by shard sid.
func (tx *Transaction) ShardKeys(sid uint32) [][]byte { return tx.shardKey[sid] }

// UniqueShards returns the participating shard ids in lock order.
func (tx *Transaction) UniqueShards() []uint32 { return tx.lockOrder }

// DbContext returns the database context hops operate under.
func (tx *Transaction) DbContext() db.Context {
	return db.Context{DB: tx.dbid, TimeNowMs: tx.timeMs}
}

// schedule acquires the shard locks in the deterministic global order.
func (tx *Transaction) schedule() db.OpStatus {
	if tx.scheduled {
		return db.StatusOK
	}
	for i, sid := range tx.lockOrder {
		select {
		case tx.engine.shards[sid].txLock <- struct{}{}:
		case <-tx.ctx.Done():
			// roll back the locks taken so far
			for _, held := range tx.lockOrder[:i] {
				<-tx.engine.shards[held].txLock
			}
			return db.StatusCancelled
		}
	}
	tx.scheduled = true
	return db.StatusOK
}

// Execute runs one hop on every participating shard and waits for all of
// them. isLast concludes the transaction after the hop. The returned status
// is the first fatal error across shards; StatusSkipped and
// StatusKeyNotFound are treated as non-fatal and only surface when no shard
// failed harder.
func (tx *Transaction) Execute(hop Hop, isLast bool) db.OpStatus {
	if tx.concluded {
		panic("Execute on a concluded transaction")
	}
	if status := tx.schedule(); status != db.StatusOK {
		return status
	}

	start := time.Now()
	statuses := make([]db.OpStatus, len(tx.lockOrder))

	var wg sync.WaitGroup
	wg.Add(len(tx.lockOrder))
	for i, sid := range tx.lockOrder {
		i, sid := i, sid
		shard := tx.engine.shards[sid]
		shard.Execute(func() {
			defer wg.Done()
			statuses[i] = hop(tx, OpArgs{Shard: shard, Ctx: tx.DbContext()})
		})
	}
	wg.Wait()
	hopTimer.UpdateSince(start)

	if isLast {
		tx.Conclude()
	}

	result := db.StatusOK
	for _, st := range statuses {
		switch st {
		case db.StatusOK:
		case db.StatusSkipped, db.StatusKeyNotFound:
			if result == db.StatusOK {
				result = st
			}
		default:
			return st
		}
	}
	return result
}

// ScheduleSingleHop runs the whole transaction as one hop and concludes.
func (tx *Transaction) ScheduleSingleHop(hop Hop) db.OpStatus {
	return tx.Execute(hop, true)
}

// Conclude releases the shard locks and wakes watchers of the keys this
// transaction wrote. Implicit on the last hop, explicit otherwise.
func (tx *Transaction) Conclude() {
	if tx.concluded {
		return
	}
	tx.concluded = true
	if tx.scheduled {
		for _, sid := range tx.lockOrder {
			<-tx.engine.shards[sid].txLock
		}
		tx.scheduled = false
	}
	if tx.write {
		for _, k := range tx.keys {
			tx.engine.blocking.notify(string(k))
		}
	}
}
