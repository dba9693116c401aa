package revocation

import (
	"context"
	"time"
)

// BlacklistEntry is the durable record of a revocation. It becomes
// purgeable once ExpiresAt has passed.
type BlacklistEntry struct {
	Digest        string    `db:"digest"`
	UserID        string    `db:"user_id"`
	ExpiresAt     time.Time `db:"expires_at"`
	BlacklistedAt time.Time `db:"blacklisted_at"`
}

// Blacklist is a durable backstop that survives a cache flush or a restore
// from an older snapshot. Implementations must be safe for concurrent use.
type Blacklist interface {
	Add(ctx context.Context, entries ...BlacklistEntry) error
	Contains(ctx context.Context, digest string) (bool, error)
}
