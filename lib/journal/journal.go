package journal

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Journal entries
// --------------------------------------------------------------------------

// Op is the opcode of a journal entry.
type Op uint8

const (
	// OpCommand records a single logical write command.
	OpCommand Op = iota
	// OpLSN is a stream position marker.
	OpLSN
	// OpNoop keeps the stream alive without carrying data.
	OpNoop
)

func (o Op) String() string {
	switch o {
	case OpCommand:
		return "COMMAND"
	case OpLSN:
		return "LSN"
	case OpNoop:
		return "NOOP"
	default:
		return "UNKNOWN"
	}
}

// Payload is the logical command carried by an OpCommand entry.
type Payload struct {
	Cmd  string
	Args [][]byte
}

// Entry is one record of the write journal.
type Entry struct {
	TxID       uint64
	Opcode     Op
	DbID       uint16
	ShardCount uint32
	// Slot is the cluster slot of the touched key; negative when the key
	// has no slot assigned.
	Slot    int32
	LSN     uint64
	Payload Payload
}

func (e *Entry) String() string {
	return fmt.Sprintf("Entry{txid: %d, op: %s, cmd: %s}", e.TxID, e.Opcode, e.Payload.Cmd)
}

// --------------------------------------------------------------------------
// Wire framing
// --------------------------------------------------------------------------

// WriteTo frames the entry: a fixed header followed by length-prefixed
// command and arguments.
func (e *Entry) WriteTo(w io.Writer) (int64, error) {
	var hdr [27]byte
	hdr[0] = byte(e.Opcode)
	binary.LittleEndian.PutUint64(hdr[1:], e.TxID)
	binary.LittleEndian.PutUint16(hdr[9:], e.DbID)
	binary.LittleEndian.PutUint32(hdr[11:], e.ShardCount)
	binary.LittleEndian.PutUint32(hdr[15:], uint32(e.Slot))
	binary.LittleEndian.PutUint64(hdr[19:], e.LSN)

	n, err := w.Write(hdr[:])
	written := int64(n)
	if err != nil {
		return written, err
	}
	if e.Opcode != OpCommand {
		return written, nil
	}

	var lenBuf [4]byte
	writeBlob := func(b []byte) error {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
		if n, err := w.Write(lenBuf[:]); err != nil {
			written += int64(n)
			return err
		}
		written += 4
		n, err := w.Write(b)
		written += int64(n)
		return err
	}

	if err := writeBlob([]byte(e.Payload.Cmd)); err != nil {
		return written, err
	}
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Payload.Args)))
	if n, err := w.Write(lenBuf[:]); err != nil {
		written += int64(n)
		return written, err
	}
	written += 4
	for _, a := range e.Payload.Args {
		if err := writeBlob(a); err != nil {
			return written, err
		}
	}
	return written, nil
}

// --------------------------------------------------------------------------
// Per-shard journal
// --------------------------------------------------------------------------

// ChangeCallback observes appended entries. allowAwait is true when the
// callback runs in a context where throttling is permitted.
type ChangeCallback func(e *Entry, allowAwait bool)

// Journal is the per-shard write journal. Append may be called from any
// goroutine; callbacks run on the queue's consumer goroutine.
type Journal struct {
	shardID uint32
	queue   *entryQueue
	lsn     uint64

	cbMu      chan struct{} // tiny mutex for callback registration
	callbacks map[uint32]ChangeCallback
	nextCbID  uint32
	done      chan struct{}
}

// New creates the journal of one shard and starts its drain loop.
func New(shardID uint32) *Journal {
	j := &Journal{
		shardID:   shardID,
		queue:     newEntryQueue(),
		cbMu:      make(chan struct{}, 1),
		callbacks: make(map[uint32]ChangeCallback),
		done:      make(chan struct{}),
	}
	go j.drain()
	return j
}

func (j *Journal) lock()   { j.cbMu <- struct{}{} }
func (j *Journal) unlock() { <-j.cbMu }

// RegisterOnChange subscribes cb and returns its handle.
func (j *Journal) RegisterOnChange(cb ChangeCallback) uint32 {
	j.lock()
	defer j.unlock()
	j.nextCbID++
	j.callbacks[j.nextCbID] = cb
	return j.nextCbID
}

// UnregisterOnChange removes a subscription.
func (j *Journal) UnregisterOnChange(id uint32) {
	j.lock()
	defer j.unlock()
	delete(j.callbacks, id)
}

// Append records an entry. The LSN is assigned here, in append order.
func (j *Journal) Append(e *Entry) {
	e.LSN = atomic.AddUint64(&j.lsn, 1)
	j.queue.Push(e)
}

// LSN returns the last assigned sequence number.
func (j *Journal) LSN() uint64 { return atomic.LoadUint64(&j.lsn) }

func (j *Journal) drain() {
	defer close(j.done)
	for e := range j.queue.Recv() {
		j.lock()
		cbs := make([]ChangeCallback, 0, len(j.callbacks))
		for _, cb := range j.callbacks {
			cbs = append(cbs, cb)
		}
		j.unlock()
		for _, cb := range cbs {
			cb(e, true)
		}
	}
}

// Close stops the journal; queued entries still reach the callbacks.
func (j *Journal) Close() {
	j.queue.Close()
	<-j.done
}
