// Package listpack implements the packed flat encoding used for small
// hashes and sorted sets.
//
// A listpack is a single []byte holding a sequence of entries. Every entry
// carries a forward header and a backward trailer so the sequence can be
// walked in both directions without auxiliary state:
//
//	entry := header(uvarint: payloadLen<<1 | isInt) payload trailer(uint32 LE: entryLen)
//
// The trailer encodes the total entry length (header + payload + trailer)
// with a fixed-width 4 byte little-endian value so Prev can read it without
// scanning. Integer payloads are stored as 8 byte little-endian two's
// complement; everything else is a raw string.
//
// Hashes store (field, value) pairs as two consecutive entries; sorted sets
// store (member, score) the same way. The adapter functions operating on
// pairs therefore always step by two entries.
//
// The encoding's whole value is compactness: it is not a general container
// and all pair operations are O(N).
package listpack
