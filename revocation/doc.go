// Package revocation is the Redis-backed allow-list that decides whether a
// (user, token) pair is currently valid.
//
// # Key layout
//
//	<prefix>:record:{<userID>}:<digest>   ActiveTokenRecord, TTL = token lifetime
//	<prefix>:active:{<userID>}            SET of digests, secondary index only
//
// The braces are a Redis Cluster hash tag: every key of one user lands in
// the same slot, so the multi-key scripts and transactions below are valid
// on a cluster.
//
// The presence of a record key is the only thing that makes a token valid.
// The per-user set exists for bulk revocation and may drift from the
// records it indexes; [Store.Reconcile] repairs that drift.
//
// # Architecture boundaries
//
// This package stores digests only and never sees claims. It does NOT parse
// tokens, evaluate roles, or know about refresh tokens.
//
// # What this package must NOT do
//
//   - Import tokenguard or jwt (no upward imports).
//   - Persist raw token strings.
//   - Report a token valid when its record key is absent or the store
//     cannot be reached.
package revocation
