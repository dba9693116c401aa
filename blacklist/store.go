package blacklist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/MrEthical07/tokenguard/revocation"
)

const schema = `CREATE TABLE IF NOT EXISTS token_blacklist (
    digest         VARCHAR(64) PRIMARY KEY,
    user_id        VARCHAR(255) NOT NULL,
    expires_at     TIMESTAMPTZ NOT NULL,
    blacklisted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS token_blacklist_expires_at_idx ON token_blacklist (expires_at);`

const upsertQuery = `INSERT INTO token_blacklist (digest, user_id, expires_at, blacklisted_at)
VALUES (:digest, :user_id, :expires_at, :blacklisted_at)
ON CONFLICT (digest)
DO UPDATE SET expires_at = GREATEST(token_blacklist.expires_at, EXCLUDED.expires_at)`

// PoolConfig tunes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open connects to PostgreSQL with the lib/pq driver and verifies the
// connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(time.Hour)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Options configures a [Store].
type Options struct {
	// Timeout bounds every statement. Zero means 2s.
	Timeout time.Duration
	Now     func() time.Time
}

// Store is the PostgreSQL blacklist.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	now     func() time.Time
}

var _ revocation.Blacklist = (*Store)(nil)

// NewStore constructs the store over an open database handle.
func NewStore(db *sqlx.DB, opts Options) *Store {
	s := &Store{db: db, timeout: opts.Timeout, now: opts.Now}
	if s.timeout <= 0 {
		s.timeout = 2 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// EnsureSchema creates the blacklist table and its expiry index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure blacklist schema: %w", err)
	}
	return nil
}

// Add upserts entries. Re-adding a digest keeps the later expiry. Multiple
// entries are written in one transaction.
func (s *Store) Add(ctx context.Context, entries ...revocation.BlacklistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()
	for i := range entries {
		if entries[i].BlacklistedAt.IsZero() {
			entries[i].BlacklistedAt = now
		}
		entries[i].ExpiresAt = entries[i].ExpiresAt.UTC()
		entries[i].BlacklistedAt = entries[i].BlacklistedAt.UTC()
	}

	if len(entries) == 1 {
		if _, err := s.db.NamedExecContext(ctx, upsertQuery, entries[0]); err != nil {
			return fmt.Errorf("insert blacklist entry: %w", err)
		}
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin blacklist tx: %w", err)
	}
	for i := range entries {
		if _, err := tx.NamedExecContext(ctx, upsertQuery, entries[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert blacklist entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit blacklist tx: %w", err)
	}
	return nil
}

// Contains reports whether digest is blacklisted and not yet past expiry.
func (s *Store) Contains(ctx context.Context, digest string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE digest = $1 AND expires_at > $2)`
	var found bool
	if err := s.db.GetContext(ctx, &found, query, digest, s.now().UTC()); err != nil {
		return false, fmt.Errorf("lookup blacklist entry: %w", err)
	}
	return found, nil
}

// ErrNotFound is returned by Get for unknown digests.
var ErrNotFound = errors.New("blacklist entry not found")

// Get returns the entry for digest regardless of expiry.
func (s *Store) Get(ctx context.Context, digest string) (*revocation.BlacklistEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT digest, user_id, expires_at, blacklisted_at FROM token_blacklist WHERE digest = $1`
	var entry revocation.BlacklistEntry
	if err := s.db.GetContext(ctx, &entry, query, digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blacklist entry: %w", err)
	}
	return &entry, nil
}

// ListByUser returns the unexpired entries of userID, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]revocation.BlacklistEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT digest, user_id, expires_at, blacklisted_at FROM token_blacklist
WHERE user_id = $1 AND expires_at > $2 ORDER BY blacklisted_at DESC`
	var entries []revocation.BlacklistEntry
	if err := s.db.SelectContext(ctx, &entries, query, userID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("list blacklist entries: %w", err)
	}
	return entries, nil
}

// Purge deletes rows whose expiry is at or before cutoff and returns how many were removed.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `DELETE FROM token_blacklist WHERE expires_at <= $1`
	res, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge blacklist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge blacklist rows affected: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
