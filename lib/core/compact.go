package core

import (
	"bytes"
	"fmt"
	"strconv"
)

// --------------------------------------------------------------------------
// Tags and flag mask
// --------------------------------------------------------------------------

const (
	// InlineLen is the maximum number of raw bytes stored directly in the
	// cell. Tag values 0..InlineLen encode an inline string of that length.
	InlineLen = 16

	// SmallStrLen is the maximum logical length for the heap allocated
	// small-string representation. Only ASCII payloads qualify.
	SmallStrLen = 32

	tagInt      = 17
	tagSmall    = 18
	tagRobj     = 19
	tagExternal = 20
	tagJSON     = 21
	tagSBF      = 22
)

// Flag mask bits of a CompactValue.
const (
	// MaskRef marks a non-owning copy produced by AsRef. A ref must never
	// release the inner payload.
	MaskRef uint8 = 1 << iota
	// MaskExpire marks keys that have an expiry timestamp in the expire
	// table.
	MaskExpire
	// MaskFlag marks keys that carry memcache-style flags.
	MaskFlag
	// MaskASCII1 and MaskASCII2 disambiguate the decoded length of an
	// ASCII packed string; see ascii.go.
	MaskASCII1
	MaskASCII2
	// MaskIOPending is set while the tiered storage has an in-flight stash
	// for this value and cleared when the request completes or is
	// cancelled.
	MaskIOPending
	// MaskSticky pins a key in memory: it is never offloaded.
	MaskSticky
	// MaskTouched tracks hotness for the offloading sweep (SIEVE-style:
	// set on access, cleared when the sweep passes over the entry).
	MaskTouched
)

const encMask = MaskASCII1 | MaskASCII2

// DiskSegment refers to a page aligned region of the tiered page file.
type DiskSegment struct {
	Offset uint64
	Length uint64
}

// ContainsOffset reports whether o falls inside the segment.
func (s DiskSegment) ContainsOffset(o uint64) bool {
	return o >= s.Offset && o < s.Offset+s.Length
}

// --------------------------------------------------------------------------
// CompactValue
// --------------------------------------------------------------------------

// CompactValue is the polymorphic cell described in the package
// documentation. The zero value is the empty string.
//
// Thread-safety: a CompactValue is owned by exactly one shard and must only
// be accessed from that shard's executor.
type CompactValue struct {
	tag  uint8
	mask uint8

	ival int64        // tagInt
	buf  []byte       // inline / small: stored (possibly packed) bytes
	obj  *RobjWrapper // tagRobj
	ext  DiskSegment  // tagExternal
	sbf  *SBF         // tagSBF
	json *JSONWrapper // tagJSON
}

// NewString returns a cell holding s.
func NewString(s []byte) CompactValue {
	var cv CompactValue
	cv.SetString(s)
	return cv
}

// NewInt returns a cell holding the integer i.
func NewInt(i int64) CompactValue {
	var cv CompactValue
	cv.SetInt(i)
	return cv
}

// setMeta releases the current payload and installs a fresh tag and mask.
// Every representation change funnels through here so the single-owner
// invariant holds.
func (cv *CompactValue) setMeta(tag, mask uint8) {
	if cv.mask&MaskRef == 0 {
		cv.buf = nil
		cv.obj = nil
		cv.sbf = nil
		cv.json = nil
	}
	cv.ival = 0
	cv.ext = DiskSegment{}
	cv.tag = tag
	cv.mask = mask
}

// Reset returns the cell to the empty string state, releasing any payload.
func (cv *CompactValue) Reset() {
	cv.setMeta(0, 0)
}

// AsRef produces a non-owning copy with MaskRef set. The copy shares the
// inner payload and must never outlive the owner.
func (cv *CompactValue) AsRef() CompactValue {
	res := *cv
	res.mask |= MaskRef
	return res
}

// IsRef reports whether the cell is a non-owning reference.
func (cv *CompactValue) IsRef() bool { return cv.mask&MaskRef != 0 }

// --------------------------------------------------------------------------
// Flag accessors
// --------------------------------------------------------------------------

func (cv *CompactValue) setMaskBit(bit uint8, on bool) {
	if on {
		cv.mask |= bit
	} else {
		cv.mask &^= bit
	}
}

func (cv *CompactValue) HasExpire() bool      { return cv.mask&MaskExpire != 0 }
func (cv *CompactValue) SetExpire(on bool)    { cv.setMaskBit(MaskExpire, on) }
func (cv *CompactValue) HasFlag() bool        { return cv.mask&MaskFlag != 0 }
func (cv *CompactValue) SetFlag(on bool)      { cv.setMaskBit(MaskFlag, on) }
func (cv *CompactValue) HasIoPending() bool   { return cv.mask&MaskIOPending != 0 }
func (cv *CompactValue) SetIoPending(on bool) { cv.setMaskBit(MaskIOPending, on) }
func (cv *CompactValue) IsSticky() bool       { return cv.mask&MaskSticky != 0 }
func (cv *CompactValue) SetSticky(on bool)    { cv.setMaskBit(MaskSticky, on) }
func (cv *CompactValue) WasTouched() bool     { return cv.mask&MaskTouched != 0 }
func (cv *CompactValue) SetTouched(on bool)   { cv.setMaskBit(MaskTouched, on) }

// --------------------------------------------------------------------------
// String representation
// --------------------------------------------------------------------------

// SetString stores s, choosing the most compact representation:
// inline for raw lengths up to 16 (packed ASCII up to 18), small-string for
// ASCII payloads up to 32 logical bytes, and a wrapped heap string
// otherwise.
func (cv *CompactValue) SetString(s []byte) {
	n := len(s)

	if n <= InlineLen {
		cv.setMeta(uint8(n), cv.mask&^encMask)
		cv.buf = append([]byte(nil), s...)
		return
	}

	if IsASCII(s) {
		packed := PackedLen(n)
		encFlag := MaskASCII2
		if asciiRoundDown(n) {
			encFlag = MaskASCII1
		}
		if packed <= InlineLen {
			cv.setMeta(uint8(packed), (cv.mask&^encMask)|encFlag)
			dst := make([]byte, packed)
			asciiPack(s, dst)
			cv.buf = dst
			return
		}
		if n <= SmallStrLen {
			cv.setMeta(tagSmall, (cv.mask&^encMask)|encFlag)
			dst := make([]byte, packed)
			asciiPack(s, dst)
			cv.buf = dst
			return
		}
	}

	obj := &RobjWrapper{}
	obj.SetString(s)
	cv.setMeta(tagRobj, cv.mask&^encMask)
	cv.obj = obj
}

// IsInline reports whether the cell stores its string directly.
func (cv *CompactValue) IsInline() bool { return cv.tag <= InlineLen }

// IsEncoded reports whether the stored bytes are ASCII packed.
func (cv *CompactValue) IsEncoded() bool { return cv.mask&encMask != 0 }

// decodedStr returns the logical bytes of an inline or small string.
func (cv *CompactValue) decodedStr() []byte {
	stored := cv.buf
	if cv.tag <= InlineLen {
		stored = cv.buf[:cv.tag]
	}
	if cv.mask&encMask == 0 {
		return stored
	}
	n := asciiDecodedLen(len(stored), cv.mask&MaskASCII1 != 0)
	return asciiUnpack(stored, n)
}

// GetString appends the logical string value to dst and returns it.
// The cell must hold a string (inline, small, int or wrapped).
func (cv *CompactValue) GetString(dst []byte) []byte {
	switch {
	case cv.tag <= InlineLen, cv.tag == tagSmall:
		return append(dst, cv.decodedStr()...)
	case cv.tag == tagInt:
		return strconv.AppendInt(dst, cv.ival, 10)
	case cv.tag == tagRobj && cv.obj.typ == ObjString:
		return append(dst, cv.obj.raw...)
	}
	panic(fmt.Sprintf("GetString called on tag %d", cv.tag))
}

// GetSlice returns a view of the logical string, using scratch for decoding
// when the representation is packed or numeric.
func (cv *CompactValue) GetSlice(scratch *[]byte) []byte {
	if cv.tag == tagRobj && cv.obj.typ == ObjString {
		return cv.obj.raw
	}
	if cv.tag <= InlineLen && cv.mask&encMask == 0 {
		return cv.buf[:cv.tag]
	}
	*scratch = cv.GetString((*scratch)[:0])
	return *scratch
}

// ToString returns the logical string as a fresh allocation.
func (cv *CompactValue) ToString() string {
	return string(cv.GetString(nil))
}

// GetRawString returns the stored (possibly packed) bytes without decoding,
// together with whether they are packed. Used by the tiered layer to bypass
// the decoding step when offloading.
// Precondition: the cell holds an in-memory string.
func (cv *CompactValue) GetRawString() (raw []byte, encoded bool) {
	switch {
	case cv.tag <= InlineLen:
		return cv.buf[:cv.tag], cv.mask&encMask != 0
	case cv.tag == tagSmall:
		return cv.buf, cv.mask&encMask != 0
	case cv.tag == tagInt:
		return strconv.AppendInt(nil, cv.ival, 10), false
	case cv.tag == tagRobj && cv.obj.typ == ObjString:
		return cv.obj.raw, false
	}
	panic(fmt.Sprintf("GetRawString called on tag %d", cv.tag))
}

// --------------------------------------------------------------------------
// Integer representation
// --------------------------------------------------------------------------

// SetInt stores a 64-bit signed integer.
func (cv *CompactValue) SetInt(i int64) {
	cv.setMeta(tagInt, cv.mask&^encMask)
	cv.ival = i
}

// TryGetInt returns the integer value if the cell holds one (either as a
// native int or as a string that parses to one).
func (cv *CompactValue) TryGetInt() (int64, bool) {
	if cv.tag == tagInt {
		return cv.ival, true
	}
	if cv.ObjType() == ObjString {
		v, err := strconv.ParseInt(string(cv.GetString(nil)), 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// --------------------------------------------------------------------------
// Container representation
// --------------------------------------------------------------------------

// InitRobj takes ownership of inner as the payload of a non-string
// container type.
func (cv *CompactValue) InitRobj(typ ObjType, enc Encoding, inner any) {
	if typ == ObjString {
		panic("InitRobj called with ObjString")
	}
	if cv.tag == tagRobj && cv.mask&MaskRef == 0 {
		// keep the wrapper, swap the payload
		cv.obj.Init(typ, enc, inner)
		return
	}
	obj := &RobjWrapper{}
	obj.Init(typ, enc, inner)
	cv.setMeta(tagRobj, cv.mask)
	cv.obj = obj
}

// RobjInner returns the container payload.
func (cv *CompactValue) RobjInner() any {
	if cv.tag != tagRobj {
		return nil
	}
	return cv.obj.inner
}

// SetRobjInner replaces the container payload without changing type or
// encoding. Used when an operation reallocates a listpack.
func (cv *CompactValue) SetRobjInner(inner any) {
	cv.obj.Init(cv.obj.typ, cv.obj.enc, inner)
}

// Robj exposes the wrapper for in-place operations.
func (cv *CompactValue) Robj() *RobjWrapper {
	if cv.tag != tagRobj {
		return nil
	}
	return cv.obj
}

// ObjType returns the logical type of the cell.
func (cv *CompactValue) ObjType() ObjType {
	switch cv.tag {
	case tagRobj:
		return cv.obj.typ
	case tagJSON:
		return ObjJSON
	case tagSBF:
		return ObjSBF
	default:
		return ObjString
	}
}

// Encoding returns the concrete encoding of a container payload, or
// EncodingRaw for plain strings.
func (cv *CompactValue) Encoding() Encoding {
	if cv.tag == tagRobj {
		return cv.obj.enc
	}
	if cv.tag == tagJSON {
		return Encoding(cv.json.encoding)
	}
	return EncodingRaw
}

// --------------------------------------------------------------------------
// JSON / SBF representations
// --------------------------------------------------------------------------

// SetJSON stores a serialized JSON document.
func (cv *CompactValue) SetJSON(raw []byte, enc uint8) {
	cv.setMeta(tagJSON, cv.mask)
	cv.json = &JSONWrapper{raw: append([]byte(nil), raw...), encoding: enc}
}

// JSON returns the JSON payload, or nil if the cell holds none.
func (cv *CompactValue) JSON() *JSONWrapper {
	if cv.tag != tagJSON {
		return nil
	}
	return cv.json
}

// SetSBF stores a scalable bloom filter payload.
func (cv *CompactValue) SetSBF(s *SBF) {
	cv.setMeta(tagSBF, cv.mask)
	cv.sbf = s
}

// SBFPayload returns the bloom filter, or nil.
func (cv *CompactValue) SBFPayload() *SBF {
	if cv.tag != tagSBF {
		return nil
	}
	return cv.sbf
}

// --------------------------------------------------------------------------
// External (tiered) representation
// --------------------------------------------------------------------------

// IsExternal reports whether the payload lives on the tiered file.
func (cv *CompactValue) IsExternal() bool { return cv.tag == tagExternal }

// SetExternal replaces the payload with a disk segment descriptor. The
// ASCII encoding flags are preserved so the raw bytes on disk can be decoded
// back to the original logical string.
func (cv *CompactValue) SetExternal(offset, length uint64) {
	enc := cv.mask & encMask
	cv.setMeta(tagExternal, (cv.mask&^encMask)|enc)
	cv.ext = DiskSegment{Offset: offset, Length: length}
}

// GetExternalSlice returns the descriptor of an external value.
func (cv *CompactValue) GetExternalSlice() DiskSegment {
	return cv.ext
}

// ImportExternal copies only the descriptor and the encoding flags of src.
// The result is a decoder cell: it does not own anything and exists so that
// a tiered read can decode the raw payload into the original logical string.
func (cv *CompactValue) ImportExternal(src *CompactValue) {
	cv.setMeta(tagExternal, src.mask&encMask)
	cv.ext = src.ext
}

// Materialize transitions the cell from external back to an in-memory
// string. If isRaw, str carries the stored bytes and the cell's encoding
// flags are used to decode them; otherwise str is the logical string.
func (cv *CompactValue) Materialize(str []byte, isRaw bool) {
	if isRaw && cv.mask&encMask != 0 {
		n := asciiDecodedLen(len(str), cv.mask&MaskASCII1 != 0)
		str = asciiUnpack(str, n)
	}
	keep := cv.mask &^ encMask &^ MaskIOPending
	cv.SetString(str)
	cv.mask = (cv.mask & encMask) | keep
}

// --------------------------------------------------------------------------
// Size, hashing and equality
// --------------------------------------------------------------------------

// Size returns the string length for strings, and the element count for
// containers.
func (cv *CompactValue) Size() int {
	switch cv.tag {
	case tagInt:
		return len(strconv.AppendInt(nil, cv.ival, 10))
	case tagSmall:
		return asciiDecodedLen(len(cv.buf), cv.mask&MaskASCII1 != 0)
	case tagRobj:
		return cv.obj.Size()
	case tagExternal:
		return int(cv.ext.Length)
	case tagJSON:
		return len(cv.json.raw)
	case tagSBF:
		return int(cv.sbf.Cardinality())
	default:
		if cv.mask&encMask != 0 {
			return asciiDecodedLen(int(cv.tag), cv.mask&MaskASCII1 != 0)
		}
		return int(cv.tag)
	}
}

// MallocUsed estimates the heap bytes owned by the cell's payload.
func (cv *CompactValue) MallocUsed() int {
	switch cv.tag {
	case tagSmall:
		return cap(cv.buf)
	case tagRobj:
		return cv.obj.MallocUsed()
	case tagJSON:
		return cap(cv.json.raw)
	default:
		return 0
	}
}

// HashCode hashes the logical string of the cell. Packed cells hash their
// decoded bytes so that HashCode(compact(s)) == HashCode(s).
func (cv *CompactValue) HashCode() uint64 {
	var scratch []byte
	return HashCode(cv.GetSlice(&scratch))
}

// EqualBytes compares the cell's logical string against s. Packed cells are
// compared in decoded space without materializing a copy of the full string.
func (cv *CompactValue) EqualBytes(s []byte) bool {
	switch {
	case cv.tag <= InlineLen:
		if cv.mask&encMask == 0 {
			return bytes.Equal(cv.buf[:cv.tag], s)
		}
		return cv.cmpEncoded(s)
	case cv.tag == tagSmall:
		return cv.cmpEncoded(s)
	case cv.tag == tagInt:
		return string(s) == strconv.FormatInt(cv.ival, 10)
	case cv.tag == tagRobj && cv.obj.typ == ObjString:
		return bytes.Equal(cv.obj.raw, s)
	}
	return false
}

// cmpEncoded compares a packed string with s by packing s instead of
// unpacking the cell.
func (cv *CompactValue) cmpEncoded(s []byte) bool {
	stored := cv.buf
	if cv.tag <= InlineLen {
		stored = cv.buf[:cv.tag]
	}
	if asciiDecodedLen(len(stored), cv.mask&MaskASCII1 != 0) != len(s) {
		return false
	}
	if !IsASCII(s) {
		return false
	}
	packed := make([]byte, PackedLen(len(s)))
	asciiPack(s, packed)
	return bytes.Equal(stored, packed)
}

// EqualValue compares two cells by logical string value.
func (cv *CompactValue) EqualValue(o *CompactValue) bool {
	var scratch []byte
	return cv.EqualBytes(o.GetSlice(&scratch))
}

// String implements fmt.Stringer for logging.
func (cv *CompactValue) String() string {
	if cv.ObjType() == ObjString && !cv.IsExternal() {
		return cv.ToString()
	}
	return fmt.Sprintf("CompactValue{type: %s, enc: %d}", cv.ObjType(), cv.Encoding())
}
