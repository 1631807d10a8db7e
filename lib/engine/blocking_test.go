package engine

import (
	"context"
	"testing"
	"time"

	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/db"
)

func TestWaitOnWatchTimesOut(t *testing.T) {
	e := testEngine(t, 2)
	key := []byte("never-written")

	start := time.Now()
	status := e.Blocking().WaitOnWatch(context.Background(), e, 0, 50*time.Millisecond,
		[][]byte{key}, func(tx *Transaction, args OpArgs) db.OpStatus {
			_, st := args.Slice().FindReadOnly(args.Ctx, key, core.ObjString)
			return st
		})

	if status != db.StatusTimedOut {
		t.Fatalf("status = %v", status)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned before the deadline: %v", elapsed)
	}
}

func TestWaitOnWatchWakesOnWrite(t *testing.T) {
	e := testEngine(t, 2)
	key := []byte("watched")

	result := make(chan db.OpStatus, 1)
	go func() {
		result <- e.Blocking().WaitOnWatch(context.Background(), e, 0, 2*time.Second,
			[][]byte{key}, func(tx *Transaction, args OpArgs) db.OpStatus {
				_, st := args.Slice().FindReadOnly(args.Ctx, key, core.ObjString)
				return st
			})
	}()

	// give the waiter time to park
	time.Sleep(20 * time.Millisecond)

	tx := e.NewTransaction(context.Background(), 0, true, key)
	tx.ScheduleSingleHop(func(tx *Transaction, args OpArgs) db.OpStatus {
		res, st := args.Slice().AddOrFind(args.Ctx, key)
		if st != db.StatusOK {
			return st
		}
		res.It.Value().SetString([]byte("data"))
		res.PostUpdater.Run()
		return db.StatusOK
	})

	select {
	case status := <-result:
		if status != db.StatusOK {
			t.Fatalf("woken waiter status = %v", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter never woke up")
	}
}

func TestWaitOnWatchCancelled(t *testing.T) {
	e := testEngine(t, 2)
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan db.OpStatus, 1)
	go func() {
		result <- e.Blocking().WaitOnWatch(ctx, e, 0, time.Minute,
			[][]byte{[]byte("k")}, func(tx *Transaction, args OpArgs) db.OpStatus {
				return db.StatusKeyNotFound
			})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case status := <-result:
		if status != db.StatusCancelled {
			t.Fatalf("status = %v", status)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled waiter never returned")
	}
}
