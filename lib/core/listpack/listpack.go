package listpack

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"strconv"
)

// --------------------------------------------------------------------------
// Entry codec
// --------------------------------------------------------------------------

const trailerSize = 4

// New returns an empty listpack.
func New() []byte { return []byte{} }

// appendEntry encodes one entry (string or int) onto lp.
func appendEntry(lp []byte, payload []byte, isInt bool) []byte {
	var hdr [binary.MaxVarintLen64]byte
	flag := uint64(0)
	if isInt {
		flag = 1
	}
	hn := binary.PutUvarint(hdr[:], uint64(len(payload))<<1|flag)

	entryLen := hn + len(payload) + trailerSize
	lp = append(lp, hdr[:hn]...)
	lp = append(lp, payload...)
	var tr [trailerSize]byte
	binary.LittleEndian.PutUint32(tr[:], uint32(entryLen))
	return append(lp, tr[:]...)
}

// AppendString appends a string entry.
func AppendString(lp []byte, s []byte) []byte {
	return appendEntry(lp, s, false)
}

// AppendInt appends an integer entry.
func AppendInt(lp []byte, v int64) []byte {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], uint64(v))
	return appendEntry(lp, p[:], true)
}

// entryAt decodes the entry starting at off. Returns the payload view, the
// integer flag and the total entry length.
func entryAt(lp []byte, off int) (payload []byte, isInt bool, entryLen int) {
	h, hn := binary.Uvarint(lp[off:])
	plen := int(h >> 1)
	isInt = h&1 == 1
	payload = lp[off+hn : off+hn+plen]
	return payload, isInt, hn + plen + trailerSize
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

// First returns the offset of the first entry, or -1 if lp is empty.
func First(lp []byte) int {
	if len(lp) == 0 {
		return -1
	}
	return 0
}

// Next returns the offset of the entry after off, or -1 at the end.
func Next(lp []byte, off int) int {
	_, _, n := entryAt(lp, off)
	off += n
	if off >= len(lp) {
		return -1
	}
	return off
}

// Prev returns the offset of the entry before off, or -1 at the start.
// Passing len(lp) starts from the last entry.
func Prev(lp []byte, off int) int {
	if off <= 0 {
		return -1
	}
	entryLen := int(binary.LittleEndian.Uint32(lp[off-trailerSize : off]))
	return off - entryLen
}

// Last returns the offset of the last entry, or -1 if lp is empty.
func Last(lp []byte) int {
	return Prev(lp, len(lp))
}

// Get returns the payload of the entry at off. Integer entries are rendered
// into buf, which must have at least 20 bytes capacity.
func Get(lp []byte, off int, buf []byte) []byte {
	payload, isInt, _ := entryAt(lp, off)
	if !isInt {
		return payload
	}
	v := int64(binary.LittleEndian.Uint64(payload))
	return strconv.AppendInt(buf[:0], v, 10)
}

// GetInt returns the raw integer of the entry at off, if it is one.
func GetInt(lp []byte, off int) (int64, bool) {
	payload, isInt, _ := entryAt(lp, off)
	if !isInt {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(payload)), true
}

// Len returns the number of entries.
func Len(lp []byte) int {
	n := 0
	for off := First(lp); off != -1; off = Next(lp, off) {
		n++
	}
	return n
}

// NumPairs returns the number of (field, value) pairs.
func NumPairs(lp []byte) int { return Len(lp) / 2 }

// Bytes returns the byte size of the listpack blob.
func Bytes(lp []byte) int { return len(lp) }

// --------------------------------------------------------------------------
// Pair operations (hash / sorted set adapters)
// --------------------------------------------------------------------------

// entryEqual compares the entry at off with s in logical space.
func entryEqual(lp []byte, off int, s []byte) bool {
	payload, isInt, _ := entryAt(lp, off)
	if !isInt {
		return bytes.Equal(payload, s)
	}
	v := int64(binary.LittleEndian.Uint64(payload))
	return string(s) == strconv.FormatInt(v, 10)
}

// findField returns the offset of the field entry matching field, stepping
// over values, or -1.
func findField(lp []byte, field []byte) int {
	off := First(lp)
	for off != -1 {
		if entryEqual(lp, off, field) {
			return off
		}
		off = Next(lp, off) // skip to value
		if off == -1 {
			break
		}
		off = Next(lp, off) // next field
	}
	return -1
}

// Find returns the value associated with field, decoding ints into buf.
// The second return reports whether the field exists.
func Find(lp []byte, field []byte, buf []byte) ([]byte, bool) {
	off := findField(lp, field)
	if off == -1 {
		return nil, false
	}
	voff := Next(lp, off)
	return Get(lp, voff, buf), true
}

// encodePayload renders s as an int entry when it parses as one.
func encodePayload(lp []byte, s []byte) []byte {
	if v, err := strconv.ParseInt(string(s), 10, 64); err == nil && len(s) > 0 &&
		string(s) == strconv.FormatInt(v, 10) {
		return AppendInt(lp, v)
	}
	return AppendString(lp, s)
}

// Insert sets field to value. When skipExists is true an existing field is
// left untouched. Returns the new listpack and whether a new pair was
// appended.
func Insert(lp []byte, field, value []byte, skipExists bool) ([]byte, bool) {
	off := findField(lp, field)
	if off != -1 {
		if skipExists {
			return lp, false
		}
		// rebuild with the value replaced; a listpack is small by
		// definition so the copy is cheap
		voff := Next(lp, off)
		_, _, vlen := entryAt(lp, voff)
		out := make([]byte, 0, len(lp))
		out = append(out, lp[:voff]...)
		out = encodePayload(out, value)
		out = append(out, lp[voff+vlen:]...)
		return out, false
	}

	lp = encodePayload(lp, field)
	lp = encodePayload(lp, value)
	return lp, true
}

// Delete removes field and its value. Returns the new listpack and whether
// the field existed.
func Delete(lp []byte, field []byte) ([]byte, bool) {
	off := findField(lp, field)
	if off == -1 {
		return lp, false
	}
	voff := Next(lp, off)
	_, _, vlen := entryAt(lp, voff)
	out := make([]byte, 0, len(lp))
	out = append(out, lp[:off]...)
	out = append(out, lp[voff+vlen:]...)
	return out, true
}

// --------------------------------------------------------------------------
// Random sampling
// --------------------------------------------------------------------------

// pairOffsets collects the field offsets of all pairs.
func pairOffsets(lp []byte) []int {
	var offs []int
	off := First(lp)
	for off != -1 {
		offs = append(offs, off)
		off = Next(lp, off)
		if off == -1 {
			break
		}
		off = Next(lp, off)
	}
	return offs
}

// RandomPair returns a uniformly random (field, value) pair.
func RandomPair(lp []byte) (field, value []byte, ok bool) {
	offs := pairOffsets(lp)
	if len(offs) == 0 {
		return nil, nil, false
	}
	off := offs[rand.Intn(len(offs))]
	var fbuf, vbuf [20]byte
	f := append([]byte(nil), Get(lp, off, fbuf[:])...)
	v := append([]byte(nil), Get(lp, Next(lp, off), vbuf[:])...)
	return f, v, true
}

// RandomPairsUnique returns up to k distinct pairs in random order.
func RandomPairsUnique(lp []byte, k int) (fields, values [][]byte) {
	offs := pairOffsets(lp)
	rand.Shuffle(len(offs), func(i, j int) { offs[i], offs[j] = offs[j], offs[i] })
	if k > len(offs) {
		k = len(offs)
	}
	var fbuf, vbuf [20]byte
	for _, off := range offs[:k] {
		fields = append(fields, append([]byte(nil), Get(lp, off, fbuf[:])...))
		values = append(values, append([]byte(nil), Get(lp, Next(lp, off), vbuf[:])...))
	}
	return fields, values
}

// RandomPairs returns k pairs sampled with replacement.
func RandomPairs(lp []byte, k int) (fields, values [][]byte) {
	offs := pairOffsets(lp)
	if len(offs) == 0 {
		return nil, nil
	}
	var fbuf, vbuf [20]byte
	for i := 0; i < k; i++ {
		off := offs[rand.Intn(len(offs))]
		fields = append(fields, append([]byte(nil), Get(lp, off, fbuf[:])...))
		values = append(values, append([]byte(nil), Get(lp, Next(lp, off), vbuf[:])...))
	}
	return fields, values
}
