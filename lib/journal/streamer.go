package journal

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("journal")

// streamMeter tracks replication stream throughput across all shards.
var streamMeter = gometrics.GetOrRegisterMeter("journal.stream.bytes", nil)

// lsnInterval is how often an LSN marker piggy-backs on the stream.
const lsnInterval = 3 * time.Second

// StreamerOptions bound the streamer's in-flight window.
type StreamerOptions struct {
	// OutputLimit is the in-flight byte ceiling before writers throttle.
	OutputLimit int
	// Timeout is how long a throttled writer waits before reporting a
	// stream timeout.
	Timeout time.Duration
	// SendLSN enables the periodic LSN markers.
	SendLSN bool
}

// Streamer frames journal entries onto a destination writer with a
// bounded in-flight window. Writes happen asynchronously; the journal
// callback throttles when the window is full.
type Streamer struct {
	journal *Journal
	dest    io.Writer
	opts    StreamerOptions

	mu            sync.Mutex
	cond          *sync.Cond
	inFlight      int
	stopped       bool
	timedOut      bool
	lastLSNTime   time.Time
	cbID          uint32
	writerPending sync.WaitGroup
}

// NewStreamer creates a streamer over journal writing to dest.
func NewStreamer(j *Journal, dest io.Writer, opts StreamerOptions) *Streamer {
	s := &Streamer{journal: j, dest: dest, opts: opts}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start subscribes the streamer to its journal.
func (s *Streamer) Start() {
	s.cbID = s.journal.RegisterOnChange(func(e *Entry, allowAwait bool) {
		if allowAwait {
			s.ThrottleIfNeeded()
			if e.Opcode == OpNoop {
				return
			}
		}
		s.write(e)

		if s.opts.SendLSN && time.Since(s.lastLSNTime) > lsnInterval {
			s.lastLSNTime = time.Now()
			s.write(&Entry{Opcode: OpLSN, LSN: e.LSN, ShardCount: 1})
		}
	})
}

// Cancel unsubscribes and waits for in-flight writes to land.
func (s *Streamer) Cancel() {
	s.journal.UnregisterOnChange(s.cbID)
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.writerPending.Wait()
}

// TimedOut reports whether the stream exceeded its throttle timeout.
func (s *Streamer) TimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timedOut
}

// InFlightBytes returns the current unacknowledged byte count.
func (s *Streamer) InFlightBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// write frames e and ships it asynchronously.
func (s *Streamer) write(e *Entry) {
	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		log.Errorf("framing journal entry: %v", err)
		return
	}
	payload := buf.Bytes()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.inFlight += len(payload)
	s.mu.Unlock()

	s.writerPending.Add(1)
	go func() {
		defer s.writerPending.Done()
		_, err := s.dest.Write(payload)
		streamMeter.Mark(int64(len(payload)))

		s.mu.Lock()
		s.inFlight -= len(payload)
		if err != nil && !s.stopped {
			log.Errorf("stream write failed: %v", err)
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
}

// isStalled must be called with mu held.
func (s *Streamer) isStalled() bool {
	return s.inFlight >= s.opts.OutputLimit
}

// ThrottleIfNeeded blocks the producer while the in-flight window is full.
// After the configured timeout it records a stream timeout and gives up.
func (s *Streamer) ThrottleIfNeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.isStalled() {
		return
	}

	deadline := time.Now().Add(s.opts.Timeout)
	startInFlight := s.inFlight

	for s.isStalled() && !s.stopped {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Warningf("stream timed out, inflight bytes start: %d, end: %d",
				startInFlight, s.inFlight)
			s.timedOut = true
			return
		}
		s.waitWithTimeout(remaining)
	}
}

// waitWithTimeout waits on the condition variable for at most d. Must be
// called with mu held.
func (s *Streamer) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.cond.Wait()
}
