// Package resp encodes command replies in the RESP wire format: simple
// strings, errors, integers, bulk strings, arrays and nulls, plus the
// datastore conventions on top of them (doubles travel as bulk strings,
// errors carry a leading category code word).
//
// Only the reply side lives here; request parsing belongs to the network
// front end, which hands the engine pre-split argument vectors.
package resp
