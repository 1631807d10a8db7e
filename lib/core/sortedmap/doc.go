// Package sortedmap implements the promoted encoding for sorted sets: a
// dual-index structure over (member, score) pairs.
//
// The primary index is an order-statistic skip list ordered by (score,
// member) with ties broken lexicographically; every level link carries a
// span so ranks resolve in O(log n). The secondary index is a hash from
// member to its node, giving O(1) score lookups.
//
// Ranks are 0-based. Score bounds are {value, inclusive?} or +-infinity;
// lex bounds are MINUS_INF, PLUS_INF, OPEN(s) or CLOSED(s). Callers pass
// reversed intervals with the endpoints already swapped.
package sortedmap
