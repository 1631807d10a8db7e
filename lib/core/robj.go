package core

import "fmt"

// --------------------------------------------------------------------------
// Object types and encodings
// --------------------------------------------------------------------------

// ObjType enumerates the logical value types recognized by the core.
type ObjType uint8

const (
	ObjString ObjType = iota
	ObjList
	ObjSet
	ObjHash
	ObjZSet
	ObjJSON
	ObjSBF
)

func (t ObjType) String() string {
	switch t {
	case ObjString:
		return "string"
	case ObjList:
		return "list"
	case ObjSet:
		return "set"
	case ObjHash:
		return "hash"
	case ObjZSet:
		return "zset"
	case ObjJSON:
		return "json"
	case ObjSBF:
		return "sbf"
	default:
		return "unknown"
	}
}

// Encoding records the concrete in-memory layout of a container payload.
type Encoding uint8

const (
	EncodingRaw Encoding = iota
	EncodingIntSet
	EncodingListPack
	EncodingStrMap
	EncodingSkipList
	EncodingJSONCons
	EncodingJSONFlat
)

// Container is the interface every promoted container payload satisfies.
type Container interface {
	// Len returns the number of logical elements.
	Len() int
	// MallocUsed estimates the heap bytes owned by the container.
	MallocUsed() int
}

// --------------------------------------------------------------------------
// RobjWrapper
// --------------------------------------------------------------------------

// RobjWrapper wraps a typed payload: either a raw string blob of up to 4GB
// or a container whose concrete encoding is recorded alongside.
type RobjWrapper struct {
	typ   ObjType
	enc   Encoding
	inner any    // container payload, or nil for strings
	raw   []byte // string payload
	sz    uint32 // string length
}

// SetString stores a raw string blob.
func (w *RobjWrapper) SetString(s []byte) {
	w.typ = ObjString
	w.enc = EncodingRaw
	w.inner = nil
	w.raw = append(w.raw[:0], s...)
	w.sz = uint32(len(s))
}

// Init takes ownership of inner as a container payload.
func (w *RobjWrapper) Init(typ ObjType, enc Encoding, inner any) {
	w.typ = typ
	w.enc = enc
	w.inner = inner
	w.raw = nil
	w.sz = 0
}

func (w *RobjWrapper) Type() ObjType        { return w.typ }
func (w *RobjWrapper) EncodingOf() Encoding { return w.enc }
func (w *RobjWrapper) Inner() any           { return w.inner }

// AsView returns the raw string payload.
func (w *RobjWrapper) AsView() []byte { return w.raw }

// Size returns the string length for strings and the element count for
// containers.
func (w *RobjWrapper) Size() int {
	if w.typ == ObjString {
		return int(w.sz)
	}
	switch c := w.inner.(type) {
	case Container:
		return c.Len()
	case []byte:
		// raw listpack blobs report their pair count at the family level;
		// here the byte length is the only thing known.
		return len(c)
	default:
		panic(fmt.Sprintf("Size on unknown payload %T", w.inner))
	}
}

// MallocUsed estimates the heap bytes of the payload.
func (w *RobjWrapper) MallocUsed() int {
	if w.typ == ObjString {
		return cap(w.raw)
	}
	switch c := w.inner.(type) {
	case Container:
		return c.MallocUsed()
	case []byte:
		return cap(c)
	default:
		return 0
	}
}

// --------------------------------------------------------------------------
// JSON payload
// --------------------------------------------------------------------------

// JSONWrapper stores a serialized JSON document together with its encoding
// byte. Parsing happens lazily at the call sites that need structure.
type JSONWrapper struct {
	raw      []byte
	encoding uint8
}

// Raw returns the serialized document.
func (j *JSONWrapper) Raw() []byte { return j.raw }

// EncodingByte returns the recorded encoding.
func (j *JSONWrapper) EncodingByte() uint8 { return j.encoding }
