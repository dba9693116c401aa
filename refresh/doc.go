// Package refresh stores opaque rotating refresh tokens in Redis.
//
// # Key layout
//
//	{prefix}:refresh:{digest}    HASH uid, fid, roles, exp, crt, state
//	{prefix}:family:{fid}        digest of the family's current token
//	{prefix}:families:{userID}   SET of live family IDs
//
// A family is the chain of refresh tokens produced by rotating one login.
// Rotated tokens are kept as "rotated" tombstones until their original
// expiry so that presenting one again is detected as reuse.
//
// Rotation derives the family and per-user keys from the stored hash inside
// one script, so the keyspace must live on a single Redis node or failover
// group. Redis Cluster is not supported.
//
// # Architecture boundaries
//
// Tokens are never stored in plaintext, only their digest. This package does
// NOT mint tokens (the jwt codec does) or touch access-token records.
//
// # What this package must NOT do
//
//   - Import tokenguard or jwt.
//   - Extend a family beyond the expiry fixed at login.
package refresh
