package engine

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/finchdb/finch/lib/db"
)

// BlockingController parks commands that wait for data to appear under one
// of their keys (BZPOPMIN and friends). Watchers are keyed by the raw key;
// a concluding writer notifies every watcher of the keys it touched.
//
// The registry is an xsync map because registration happens on command
// goroutines while notification happens from concluding transactions.
type BlockingController struct {
	watchers *xsync.MapOf[string, *waiterSet]
}

type waiterSet struct {
	mu    sync.Mutex
	chans []chan struct{}
}

func newBlockingController() *BlockingController {
	return &BlockingController{watchers: xsync.NewMapOf[string, *waiterSet]()}
}

func (b *BlockingController) addWaiter(keys [][]byte) chan struct{} {
	ch := make(chan struct{}, 1)
	for _, k := range keys {
		set, _ := b.watchers.LoadOrCompute(string(k), func() *waiterSet {
			return &waiterSet{}
		})
		set.mu.Lock()
		set.chans = append(set.chans, ch)
		set.mu.Unlock()
	}
	return ch
}

func (b *BlockingController) removeWaiter(keys [][]byte, ch chan struct{}) {
	for _, k := range keys {
		set, ok := b.watchers.Load(string(k))
		if !ok {
			continue
		}
		set.mu.Lock()
		for i, c := range set.chans {
			if c == ch {
				set.chans = append(set.chans[:i], set.chans[i+1:]...)
				break
			}
		}
		empty := len(set.chans) == 0
		set.mu.Unlock()
		if empty {
			b.watchers.Delete(string(k))
		}
	}
}

// notify wakes all watchers registered under key.
func (b *BlockingController) notify(key string) {
	set, ok := b.watchers.Load(key)
	if !ok {
		return
	}
	set.mu.Lock()
	for _, ch := range set.chans {
		select {
		case ch <- struct{}{}:
		default: // the waiter already has a pending wakeup
		}
	}
	set.mu.Unlock()
}

// WaitOnWatch blocks until predicate succeeds under a fresh transaction, the
// deadline passes, or ctx is cancelled. predicate runs as a single hop over
// keys and must return StatusOK when it consumed the data it waited for;
// StatusKeyNotFound or StatusSkipped re-parks the waiter and any other status
// is returned (spurious wakeups re-evaluate under the shard lock, they are
// never trusted).
func (b *BlockingController) WaitOnWatch(ctx context.Context, e *Engine, dbid db.DbIndex,
	timeout time.Duration, keys [][]byte, predicate Hop) db.OpStatus {

	var deadlineCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}

	ch := b.addWaiter(keys)
	defer b.removeWaiter(keys, ch)

	for {
		tx := e.NewTransaction(ctx, dbid, false, keys...)
		status := tx.ScheduleSingleHop(predicate)
		if status != db.StatusKeyNotFound && status != db.StatusSkipped {
			return status
		}

		select {
		case <-ch:
		case <-deadlineCh:
			return db.StatusTimedOut
		case <-ctx.Done():
			return db.StatusCancelled
		}
	}
}
