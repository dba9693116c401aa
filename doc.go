// Package tokenguard issues, validates, and revokes stateless access tokens
// across a horizontally scaled fleet. Access tokens are signed JWTs; their
// validity is additionally anchored in a shared Redis revocation store so a
// revocation on one instance is visible on every other instance at once.
// Refresh tokens are opaque, single-use, and rotate within a family.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// tokenguard is the public surface. It exposes [Engine], [Builder], [Config],
// and value types ([Principal], [MetricsSnapshot], [SweepResult]). The token
// codec lives in jwt, the revocation cache in revocation, refresh families in
// refresh, and the durable Postgres backstop in blacklist. Flow orchestration
// and audit dispatch live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients or raw store keys in its public API.
//   - Store raw tokens. Only SHA-256 digests reach Redis or Postgres.
//   - Tell a Validate caller why a token was rejected. Every failure is
//     [ErrUnauthorized]; the reason goes to metrics, audit, and debug logs.
//   - Accept a token when the revocation store cannot be reached.
//
// # Performance contract
//
// Validate is the hot path: one signature check and one Redis EXISTS. Issue
// and Revoke are one round-trip each. RevokeAll is bounded by the number of
// indexed tokens of one user, never by the keyspace.
package tokenguard
