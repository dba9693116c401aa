package revocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrStoreUnavailable is returned when Redis cannot be reached or a call
// exceeds the operation timeout.
var ErrStoreUnavailable = errors.New("revocation store unavailable")

// ErrInvalidExpiry is returned by Register for an expiry that is not in the future.
var ErrInvalidExpiry = errors.New("token expiry is not in the future")

// ErrInvalidArgument is returned for empty user IDs or tokens.
var ErrInvalidArgument = errors.New("invalid revocation argument")

// IndexPolicy selects how Register refreshes the TTL of the per-user set.
type IndexPolicy string

const (
	// IndexPolicyLatest sets the set TTL to the lifetime of the most recently
	// registered token. O(1), may drift shorter than older records.
	IndexPolicyLatest IndexPolicy = "latest"
	// IndexPolicyMax only ever extends the set TTL.
	IndexPolicyMax IndexPolicy = "max"
)

const (
	defaultPrefix  = "tg"
	scanBatchSize  = 1000
	defaultTimeout = 500 * time.Millisecond
)

const registerMaxScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
local ttl = tonumber(ARGV[2])
local cur = redis.call("PTTL", KEYS[2])
if cur < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var registerMaxLua = redis.NewScript(registerMaxScript)

const revokeScript = `
local data = redis.call("GET", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if data then
  redis.call("DEL", KEYS[1])
  return data
end
return false
`

var revokeLua = redis.NewScript(revokeScript)

const reconcileScript = `
for i = 2, #ARGV do
  redis.call("SREM", KEYS[1], ARGV[i])
end
local ttl = tonumber(ARGV[1])
if ttl > 0 and redis.call("EXISTS", KEYS[1]) == 1 then
  local cur = redis.call("PTTL", KEYS[1])
  if #ARGV > 1 or (cur >= 0 and cur < ttl) then
    redis.call("PEXPIRE", KEYS[1], ttl)
  end
end
return redis.call("SCARD", KEYS[1])
`

var reconcileLua = redis.NewScript(reconcileScript)

// Options configures a [Store].
type Options struct {
	// Prefix namespaces every key. Empty means "tg".
	Prefix string
	// Timeout bounds every Redis call. Zero means 500ms.
	Timeout time.Duration
	// IndexPolicy defaults to IndexPolicyLatest.
	IndexPolicy IndexPolicy
	// Blacklist receives an entry for every revoked record when non-nil.
	Blacklist Blacklist
	// CheckBlacklistOnHit makes IsValid reject present records whose digest
	// is blacklisted. Guards against records resurrected by a snapshot restore.
	CheckBlacklistOnHit bool
	// OnBlacklistFailure observes durable write failures, which are
	// otherwise only logged.
	OnBlacklistFailure func(error)
	Logger             *zap.Logger
	Now                func() time.Time
}

// ReconcileResult reports what a [Store.Reconcile] pass observed and changed.
type ReconcileResult struct {
	Scanned  int
	Removed  int
	Live     int
	IndexTTL time.Duration
}

// Store is the Redis-backed revocation store. It is safe for concurrent use.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	timeout    time.Duration
	policy     IndexPolicy
	blacklist  Blacklist
	checkOnHit bool
	onBLFail   func(error)
	logger     *zap.Logger
	now        func() time.Time
}

// NewStore creates a revocation [Store] backed by rdb.
func NewStore(rdb redis.UniversalClient, opts Options) *Store {
	s := &Store{
		redis:      rdb,
		prefix:     strings.TrimSuffix(opts.Prefix, ":"),
		timeout:    opts.Timeout,
		policy:     opts.IndexPolicy,
		blacklist:  opts.Blacklist,
		checkOnHit: opts.CheckBlacklistOnHit,
		onBLFail:   opts.OnBlacklistFailure,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.policy == "" {
		s.policy = IndexPolicyLatest
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Keys of one user share the {userID} hash tag so multi-key commands stay
// in one cluster slot.
func (s *Store) recordKey(userID, digest string) string {
	return s.prefix + ":record:{" + userID + "}:" + digest
}

func (s *Store) activeKey(userID string) string {
	return s.prefix + ":active:{" + userID + "}"
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// ceilMillis converts d to whole milliseconds for PX arguments, rounding up
// so a positive lifetime never becomes zero.
func ceilMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if time.Duration(ms)*time.Millisecond < d {
		ms++
	}
	return ms
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Register marks token as active for userID until expiry.
//
//	Performance: 1 MULTI/EXEC (SET PX + SADD + PEXPIRE), or 1 EVALSHA with IndexPolicyMax.
func (s *Store) Register(ctx context.Context, userID, token string, expiry time.Time) error {
	if userID == "" || token == "" {
		return ErrInvalidArgument
	}
	now := s.now()
	ttl := expiry.Sub(now)
	if ttl <= 0 {
		return ErrInvalidExpiry
	}

	digest := Digest(token)
	data, err := EncodeRecord(&Record{UserID: userID, Digest: digest, CreatedAt: now, ExpiresAt: expiry})
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	recordKey := s.recordKey(userID, digest)
	activeKey := s.activeKey(userID)

	if s.policy == IndexPolicyMax {
		if err := registerMaxLua.Run(ctx, s.redis, []string{recordKey, activeKey}, data, ceilMillis(ttl), digest).Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey, data, ttl)
		pipe.SAdd(ctx, activeKey, digest)
		pipe.PExpire(ctx, activeKey, ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Check reports whether token is currently valid for userID. Unlike
// [Store.IsValid] it surfaces store faults as [ErrStoreUnavailable].
func (s *Store) Check(ctx context.Context, userID, token string) (bool, error) {
	if userID == "" || token == "" {
		return false, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	digest := Digest(token)
	n, err := s.redis.Exists(ctx, s.recordKey(userID, digest)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	if n == 0 {
		return false, nil
	}

	if s.blacklist != nil && s.checkOnHit {
		listed, err := s.blacklist.Contains(ctx, digest)
		if err != nil {
			return false, unavailable(err)
		}
		if listed {
			return false, nil
		}
	}
	return true, nil
}

// IsValid reports whether token is currently valid for userID. Any store
// fault yields false and is logged.
//
//	Performance: 1 Redis EXISTS (+1 blacklist lookup with CheckBlacklistOnHit).
func (s *Store) IsValid(ctx context.Context, userID, token string) bool {
	ok, err := s.Check(ctx, userID, token)
	if err != nil {
		s.logger.Warn("revocation check failed, rejecting token",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// Revoke deletes the record for token and drops its digest from the user
// index. Revoking an unknown or already revoked token is a no-op.
//
//	Performance: 1 EVALSHA (GET + SREM + DEL).
func (s *Store) Revoke(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return ErrInvalidArgument
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	digest := Digest(token)
	data, err := revokeLua.Run(ctx, s.redis, []string{s.recordKey(userID, digest), s.activeKey(userID)}, digest).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return unavailable(err)
	}

	rec, err := DecodeRecord([]byte(data))
	if err != nil {
		rec = &Record{UserID: userID, Digest: digest}
	}
	s.writeBlacklist(ctx, []*Record{rec})
	return nil
}

// RevokeAll deletes every record indexed for userID and the index itself in
// one batched DEL, returning the number of records removed.
//
// Records registered after the SMEMBERS read are not captured. Records whose
// index entry was lost to TTL drift are not captured either; they expire on
// their own TTL.
//
//	Performance: SMEMBERS + 1 MULTI/EXEC DEL (+ pipelined GET with a blacklist).
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	activeKey := s.activeKey(userID)
	digests, err := s.redis.SMembers(ctx, activeKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, unavailable(err)
	}

	recordKeys := make([]string, 0, len(digests))
	for _, digest := range digests {
		recordKeys = append(recordKeys, s.recordKey(userID, digest))
	}

	var revoked []*Record
	if s.blacklist != nil && len(recordKeys) > 0 {
		revoked, err = s.readRecords(ctx, recordKeys)
		if err != nil {
			return 0, err
		}
	}

	var delRecords *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(recordKeys) > 0 {
			delRecords = pipe.Del(ctx, recordKeys...)
		}
		pipe.Del(ctx, activeKey)
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}

	s.writeBlacklist(ctx, revoked)

	if delRecords == nil {
		return 0, nil
	}
	return int(delRecords.Val()), nil
}

// Reconcile drops index entries whose record no longer exists. When entries
// were dropped the index TTL is reset to the longest remaining record
// lifetime, which may shorten it; otherwise it is only ever extended.
//
//	Performance: SMEMBERS + pipelined PTTL + 1 EVALSHA.
func (s *Store) Reconcile(ctx context.Context, userID string) (ReconcileResult, error) {
	var result ReconcileResult
	if userID == "" {
		return result, ErrInvalidArgument
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	activeKey := s.activeKey(userID)
	digests, err := s.redis.SMembers(ctx, activeKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return result, unavailable(err)
	}
	result.Scanned = len(digests)
	if len(digests) == 0 {
		return result, nil
	}

	pipe := s.redis.Pipeline()
	ttlCmds := make([]*redis.DurationCmd, len(digests))
	for i, digest := range digests {
		ttlCmds[i] = pipe.PTTL(ctx, s.recordKey(userID, digest))
	}
	indexTTL := pipe.PTTL(ctx, activeKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return result, unavailable(err)
	}

	dead := make([]interface{}, 0, len(digests))
	var maxTTL time.Duration
	for i, cmd := range ttlCmds {
		ttl, cmdErr := cmd.Result()
		if cmdErr != nil {
			return result, unavailable(cmdErr)
		}
		// go-redis reports a missing key as -2 and a key without expiry as -1.
		if ttl == -2 {
			dead = append(dead, digests[i])
			continue
		}
		if ttl > maxTTL {
			maxTTL = ttl
		}
	}
	result.Removed = len(dead)
	result.Live = len(digests) - len(dead)
	result.IndexTTL = indexTTL.Val()

	if len(dead) == 0 && result.IndexTTL >= maxTTL {
		return result, nil
	}

	args := make([]interface{}, 0, len(dead)+1)
	args = append(args, maxTTL.Milliseconds())
	args = append(args, dead...)
	if err := reconcileLua.Run(ctx, s.redis, []string{activeKey}, args...).Err(); err != nil {
		return result, unavailable(err)
	}
	if result.Live > 0 && (result.Removed > 0 || (result.IndexTTL >= 0 && result.IndexTTL < maxTTL)) {
		result.IndexTTL = maxTTL
	}
	if result.Live == 0 {
		result.IndexTTL = 0
	}

	s.logger.Debug("reconciled active token index",
		zap.String("user_id", userID),
		zap.Int("scanned", result.Scanned),
		zap.Int("removed", result.Removed),
		zap.Duration("index_ttl", result.IndexTTL),
	)
	return result, nil
}

// ActiveDigests returns the digests currently indexed for userID. The list
// may include digests whose record has already expired.
func (s *Store) ActiveDigests(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	digests, err := s.redis.SMembers(ctx, s.activeKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, unavailable(err)
	}
	return digests, nil
}

// Count returns the number of indexed digests for userID.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.redis.SCard(ctx, s.activeKey(userID)).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// ScanUsers calls fn for every user that currently has an index key.
// This is an admin-only O(n) operation and must not be used in request hot paths.
func (s *Store) ScanUsers(ctx context.Context, fn func(userID string) error) error {
	prefix := s.prefix + ":active:"
	pattern := prefix + "*"
	var cursor uint64

	for {
		scanCtx, cancel := s.withTimeout(ctx)
		keys, next, err := s.redis.Scan(scanCtx, cursor, pattern, scanBatchSize).Result()
		cancel()
		if err != nil {
			return unavailable(err)
		}
		for _, key := range keys {
			userID := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(key, prefix), "{"), "}")
			if err := fn(userID); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func (s *Store) readRecords(ctx context.Context, keys []string) ([]*Record, error) {
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	records := make([]*Record, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, unavailable(err)
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			s.logger.Warn("skipping corrupt active token record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// writeBlacklist is best effort: the cache delete already revoked the
// tokens, so a durable write failure is logged and not surfaced.
func (s *Store) writeBlacklist(ctx context.Context, records []*Record) {
	if s.blacklist == nil || len(records) == 0 {
		return
	}

	now := s.now()
	entries := make([]BlacklistEntry, 0, len(records))
	for _, rec := range records {
		expires := rec.ExpiresAt
		if expires.IsZero() {
			expires = now
		}
		entries = append(entries, BlacklistEntry{
			Digest:        rec.Digest,
			UserID:        rec.UserID,
			ExpiresAt:     expires,
			BlacklistedAt: now,
		})
	}

	if err := s.blacklist.Add(context.WithoutCancel(ctx), entries...); err != nil {
		s.logger.Error("blacklist write failed",
			zap.Int("entries", len(entries)),
			zap.Error(err),
		)
		if s.onBLFail != nil {
			s.onBLFail(err)
		}
	}
}
