// Package strmap implements the promoted hash encoding for field maps:
// an open-addressed table from field to value with an optional per-field
// expiry and insertion-order iteration.
//
// Expiry is stored as a 32-bit absolute second relative to a reference
// clock the owner advances via SetTime before operating on the map. Expired
// entries are treated as absent by every lookup and are garbage collected
// lazily when a probe walks over them; UpperBoundSize may therefore
// overcount by entries that expired but were not collected yet.
//
// Scan provides a stateless, reentrant cursor over the probe sequence: a
// complete cursor cycle visits every surviving entry at least once and at
// most a small constant number of times (growth between calls may cause
// revisits).
package strmap
