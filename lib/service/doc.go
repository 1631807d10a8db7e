// Package service exposes the engine as RESP command handlers.
//
// Commands arrive as pre-split argument vectors together with a connection
// context; the network front end that parses the wire protocol is an
// external collaborator. Every command is declared in the registry with
// its arity (positive = exact, negative = at-least) and its ACL category,
// and runs as one or more transaction hops against the engine.
//
// The container families own the encoding decisions: hashes and sorted
// sets start out as listpacks and promote to their hashed/skip-list forms
// when a field outgrows the configured limits, the packed blob exceeds its
// byte budget, per-field TTL is requested, or the entry count passes the
// threshold. Promotion is irreversible.
package service
