// Package blacklist persists revoked token digests in PostgreSQL so that a
// revocation outlives a cache flush or a restore from an older snapshot.
//
// [Store] implements revocation.Blacklist. Rows carry the revoked token's
// own expiry and become purgeable once it passes; [Store.Contains] ignores
// rows that are already past expiry so a missed purge never matters.
package blacklist
