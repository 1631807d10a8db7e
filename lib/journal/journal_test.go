package journal

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestJournalDeliversEntries(t *testing.T) {
	j := New(0)
	defer j.Close()

	var mu sync.Mutex
	var got []*Entry
	done := make(chan struct{}, 10)
	j.RegisterOnChange(func(e *Entry, allowAwait bool) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	})

	j.Append(&Entry{Opcode: OpCommand, Payload: Payload{Cmd: "SET", Args: [][]byte{[]byte("k"), []byte("v")}}})
	j.Append(&Entry{Opcode: OpCommand, Payload: Payload{Cmd: "DEL", Args: [][]byte{[]byte("k")}}})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("entry %d never delivered", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered %d entries", len(got))
	}
	if got[0].Payload.Cmd != "SET" || got[1].Payload.Cmd != "DEL" {
		t.Errorf("order or content wrong: %v %v", got[0], got[1])
	}
	if got[0].LSN != 1 || got[1].LSN != 2 {
		t.Errorf("LSNs = %d, %d", got[0].LSN, got[1].LSN)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	j := New(0)
	defer j.Close()

	delivered := make(chan struct{}, 10)
	id := j.RegisterOnChange(func(e *Entry, allowAwait bool) {
		delivered <- struct{}{}
	})
	j.Append(&Entry{Opcode: OpCommand, Payload: Payload{Cmd: "SET"}})
	<-delivered

	j.UnregisterOnChange(id)
	j.Append(&Entry{Opcode: OpCommand, Payload: Payload{Cmd: "SET"}})

	select {
	case <-delivered:
		t.Fatalf("callback fired after unregister")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEntryFraming(t *testing.T) {
	e := &Entry{
		TxID:       42,
		Opcode:     OpCommand,
		DbID:       1,
		ShardCount: 4,
		Slot:       -1,
		Payload:    Payload{Cmd: "HSET", Args: [][]byte{[]byte("h"), []byte("f"), []byte("v")}},
	}

	var buf bytes.Buffer
	n, err := e.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("reported %d bytes, wrote %d", n, buf.Len())
	}
	// header + cmd blob + arg count + 3 arg blobs
	want := 27 + (4 + 4) + 4 + (4 + 1) + (4 + 1) + (4 + 1)
	if buf.Len() != want {
		t.Errorf("frame size = %d, want %d", buf.Len(), want)
	}

	lsn := &Entry{Opcode: OpLSN, LSN: 7}
	buf.Reset()
	lsn.WriteTo(&buf)
	if buf.Len() != 27 {
		t.Errorf("LSN frame size = %d", buf.Len())
	}
}

// slowWriter blocks each write until released.
type slowWriter struct {
	release chan struct{}
	mu      sync.Mutex
	written int
}

func (w *slowWriter) Write(p []byte) (int, error) {
	<-w.release
	w.mu.Lock()
	w.written += len(p)
	w.mu.Unlock()
	return len(p), nil
}

func TestStreamerThrottleTimeout(t *testing.T) {
	j := New(0)
	defer j.Close()

	w := &slowWriter{release: make(chan struct{})}
	s := NewStreamer(j, w, StreamerOptions{OutputLimit: 1, Timeout: 50 * time.Millisecond})
	s.Start()
	defer func() {
		close(w.release)
		s.Cancel()
	}()

	// the first entry fills the window; delivering the second entry
	// throttles and must eventually report the timeout
	j.Append(&Entry{Opcode: OpCommand, Payload: Payload{Cmd: "SET"}})
	j.Append(&Entry{Opcode: OpCommand, Payload: Payload{Cmd: "SET"}})

	deadline := time.Now().Add(2 * time.Second)
	for !s.TimedOut() {
		if time.Now().After(deadline) {
			t.Fatalf("stream timeout never reported")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamerDelivers(t *testing.T) {
	j := New(0)
	defer j.Close()

	var buf bytes.Buffer
	var mu sync.Mutex
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})

	s := NewStreamer(j, w, StreamerOptions{OutputLimit: 1 << 20, Timeout: time.Second})
	s.Start()

	j.Append(&Entry{Opcode: OpCommand, Payload: Payload{Cmd: "SET", Args: [][]byte{[]byte("k")}}})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := buf.Len()
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("nothing reached the destination")
		}
		time.Sleep(time.Millisecond)
	}
	s.Cancel()
	if s.InFlightBytes() != 0 {
		t.Errorf("in-flight bytes after cancel = %d", s.InFlightBytes())
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
