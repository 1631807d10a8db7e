package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/finchdb/finch/lib/config"
	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/db"
)

func testEngine(t *testing.T, shards int) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.NumShards = shards
	cfg.TieredPath = ""
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestSingleHopSetGet(t *testing.T) {
	e := testEngine(t, 4)
	key := []byte("some-key")

	tx := e.NewTransaction(context.Background(), 0, true, key)
	status := tx.ScheduleSingleHop(func(tx *Transaction, args OpArgs) db.OpStatus {
		res, st := args.Slice().AddOrFind(args.Ctx, key)
		if st != db.StatusOK {
			return st
		}
		res.It.Value().SetString([]byte("value"))
		res.PostUpdater.Run()
		return db.StatusOK
	})
	if status != db.StatusOK {
		t.Fatalf("write hop status = %v", status)
	}

	var got string
	tx = e.NewTransaction(context.Background(), 0, false, key)
	status = tx.ScheduleSingleHop(func(tx *Transaction, args OpArgs) db.OpStatus {
		it, st := args.Slice().FindReadOnly(args.Ctx, key, core.ObjString)
		if st != db.StatusOK {
			return st
		}
		got = it.Value().ToString()
		return db.StatusOK
	})
	if status != db.StatusOK || got != "value" {
		t.Fatalf("read hop = %v, %q", status, got)
	}
}

// twoShardKeys returns two keys that live on different shards.
func twoShardKeys(t *testing.T, e *Engine) ([]byte, []byte) {
	t.Helper()
	k1 := []byte("key-a")
	s1 := e.ShardForKey(k1)
	for i := 0; i < 10000; i++ {
		k2 := []byte(fmt.Sprintf("key-%d", i))
		if e.ShardForKey(k2) != s1 {
			return k1, k2
		}
	}
	t.Fatalf("no key pair across shards found")
	return nil, nil
}

func TestCrossShardOrdering(t *testing.T) {
	e := testEngine(t, 4)
	k1, k2 := twoShardKeys(t, e)
	s1, s2 := e.ShardForKey(k1), e.ShardForKey(k2)

	for round := 0; round < 50; round++ {
		var mu sync.Mutex
		order := map[uint32][]uint64{}

		run := func(wg *sync.WaitGroup) {
			defer wg.Done()
			tx := e.NewTransaction(context.Background(), 0, false, k1, k2)
			tx.ScheduleSingleHop(func(tx *Transaction, args OpArgs) db.OpStatus {
				mu.Lock()
				order[args.Shard.ShardID()] = append(order[args.Shard.ShardID()], tx.TxID())
				mu.Unlock()
				return db.StatusOK
			})
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go run(&wg)
		go run(&wg)
		wg.Wait()

		if len(order[s1]) != 2 || len(order[s2]) != 2 {
			t.Fatalf("round %d: hop counts %v", round, order)
		}
		if order[s1][0] != order[s2][0] || order[s1][1] != order[s2][1] {
			t.Fatalf("round %d: shards observed different orders: %v", round, order)
		}
	}
}

func TestMultiHop(t *testing.T) {
	e := testEngine(t, 2)
	k1, k2 := twoShardKeys(t, e)

	tx := e.NewTransaction(context.Background(), 0, true, k1, k2)

	hops := 0
	status := tx.Execute(func(tx *Transaction, args OpArgs) db.OpStatus {
		hops++
		return db.StatusOK
	}, false)
	if status != db.StatusOK {
		t.Fatalf("first hop = %v", status)
	}
	status = tx.Execute(func(tx *Transaction, args OpArgs) db.OpStatus {
		hops++
		return db.StatusOK
	}, true)
	if status != db.StatusOK {
		t.Fatalf("second hop = %v", status)
	}
	if hops != 4 {
		t.Errorf("ran %d shard hops, want 4", hops)
	}

	// concluded: locks must be free for the next transaction
	tx2 := e.NewTransaction(context.Background(), 0, false, k1, k2)
	if st := tx2.ScheduleSingleHop(func(tx *Transaction, args OpArgs) db.OpStatus {
		return db.StatusOK
	}); st != db.StatusOK {
		t.Fatalf("follow-up transaction = %v", st)
	}
}

func TestErrorAggregation(t *testing.T) {
	e := testEngine(t, 2)
	k1, k2 := twoShardKeys(t, e)
	s1 := e.ShardForKey(k1)

	tx := e.NewTransaction(context.Background(), 0, false, k1, k2)
	status := tx.ScheduleSingleHop(func(tx *Transaction, args OpArgs) db.OpStatus {
		if args.Shard.ShardID() == s1 {
			return db.StatusWrongType
		}
		return db.StatusKeyNotFound
	})
	if status != db.StatusWrongType {
		t.Errorf("aggregated status = %v, want the fatal error", status)
	}

	tx = e.NewTransaction(context.Background(), 0, false, k1, k2)
	status = tx.ScheduleSingleHop(func(tx *Transaction, args OpArgs) db.OpStatus {
		if args.Shard.ShardID() == s1 {
			return db.StatusKeyNotFound
		}
		return db.StatusOK
	})
	if status != db.StatusKeyNotFound {
		t.Errorf("non-fatal aggregation = %v", status)
	}
}

func TestCancelledSchedule(t *testing.T) {
	e := testEngine(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	k := []byte("k")
	// occupy the shard lock so scheduling has to wait and observe the
	// cancelled context
	sid := e.ShardForKey(k)
	e.shards[sid].txLock <- struct{}{}
	defer func() { <-e.shards[sid].txLock }()

	tx := e.NewTransaction(ctx, 0, false, k)
	if status := tx.ScheduleSingleHop(func(tx *Transaction, args OpArgs) db.OpStatus {
		return db.StatusOK
	}); status != db.StatusCancelled {
		t.Errorf("status = %v, want CANCELLED", status)
	}
}
