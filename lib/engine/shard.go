package engine

import (
	"time"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/finchdb/finch/lib/db"
	"github.com/finchdb/finch/lib/journal"
	"github.com/finchdb/finch/lib/tiered"
)

var log = logger.GetLogger("engine")

const (
	// heartbeatInterval paces the background expiry scan and the tiered
	// offloading sweep.
	heartbeatInterval = 50 * time.Millisecond

	// expireBucketBudget bounds how many expire-table buckets one
	// heartbeat samples.
	expireBucketBudget = 20
)

// EngineShard owns one slice of the keyspace. All state hanging off the
// shard is accessed exclusively from the shard's executor goroutine.
type EngineShard struct {
	shardID uint32
	slice   *db.Slice
	tiered  *tiered.Storage
	journal *journal.Journal

	tasks chan func()
	stop  chan struct{}
	done  chan struct{}

	// txLock is the shard's transaction lock: capacity one, acquired in
	// global shard order during scheduling.
	txLock chan struct{}
}

func newShard(shardID uint32, slice *db.Slice) *EngineShard {
	s := &EngineShard{
		shardID: shardID,
		slice:   slice,
		tasks:   make(chan func(), 128),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		txLock:  make(chan struct{}, 1),
	}
	go s.loop()
	return s
}

// ShardID returns the shard's index.
func (s *EngineShard) ShardID() uint32 { return s.shardID }

// Slice returns the shard database.
func (s *EngineShard) Slice() *db.Slice { return s.slice }

// Tiered returns the shard's tiered storage, or nil when tiering is off.
func (s *EngineShard) Tiered() *tiered.Storage { return s.tiered }

// Journal returns the shard journal.
func (s *EngineShard) Journal() *journal.Journal { return s.journal }

// Execute submits fn to the shard executor and returns immediately.
func (s *EngineShard) Execute(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.stop:
	}
}

// ExecuteSync runs fn on the shard executor and waits for it to finish.
func (s *EngineShard) ExecuteSync(fn func()) {
	doneCh := make(chan struct{})
	s.Execute(func() {
		defer close(doneCh)
		fn()
	})
	<-doneCh
}

func (s *EngineShard) loop() {
	defer close(s.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-ticker.C:
			s.heartbeat()
		case <-s.stop:
			// drain whatever was already submitted
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// heartbeat runs the periodic shard chores: expire sampling and tiered
// offloading.
func (s *EngineShard) heartbeat() {
	ctx := db.Context{DB: 0, TimeNowMs: nowMs()}
	s.slice.ExpireCycle(ctx, expireBucketBudget)
	if s.tiered != nil {
		s.tiered.RunOffloading(0)
	}
}

func (s *EngineShard) close() {
	close(s.stop)
	<-s.done
	if s.tiered != nil {
		if err := s.tiered.Close(); err != nil {
			log.Warningf("shard %d: closing tiered storage: %v", s.shardID, err)
		}
	}
	if s.journal != nil {
		s.journal.Close()
	}
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
