// Package core provides the compact polymorphic value cell used by the
// datastore to represent keys and values, together with the helpers the cell
// depends on (ASCII packing, seeded hashing, the typed container wrapper and
// the scalable bloom filter payload).
//
// The central type is CompactValue, a small tagged cell that stores exactly
// one of the following representations at any time:
//
//  1. An inline string of up to 16 raw bytes (or up to 18 logical bytes when
//     ASCII packing applies).
//  2. A 64-bit signed integer.
//  3. A heap allocated small string of up to 32 logical bytes.
//  4. A typed container payload (hash, sorted set, list, set) or a string
//     longer than the small-string limit, wrapped in a RobjWrapper that
//     records the concrete encoding.
//  5. A descriptor of an external value that lives on the tiered page file.
//  6. A serialized JSON document with its encoding byte.
//  7. A scalable bloom filter.
//
// Transitions between representations always release the previous payload
// before installing the new one, so a cell never owns two representations.
//
// A side-band flag mask carries reference/expiry/io-pending/sticky/touched
// markers as well as the two ASCII length-rounding bits. See the ascii.go
// file for why two bits are needed.
package core
