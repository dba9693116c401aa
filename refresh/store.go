package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tokenguard/revocation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned for refresh tokens that were never issued or were revoked.
var ErrNotFound = errors.New("refresh token not found")

// ErrExpired is returned for refresh tokens past their family expiry.
var ErrExpired = errors.New("refresh token expired")

// ErrReused is returned when an already rotated token is presented again.
// The family has been revoked by the time this is returned.
var ErrReused = errors.New("refresh token reuse detected")

// ErrCorrupt is returned when a stored refresh record is missing fields.
var ErrCorrupt = errors.New("refresh record corrupt")

// ErrStoreUnavailable is the revocation sentinel, shared so callers can
// classify Redis faults from either store with one errors.Is check.
var ErrStoreUnavailable = revocation.ErrStoreUnavailable

const (
	stateActive  = "active"
	stateRotated = "rotated"

	rolesSeparator = ","
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusReused   int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusCorrupt  int64 = 4
)

const saveScript = `
redis.call("HSET", KEYS[1], "uid", ARGV[1], "fid", ARGV[2], "roles", ARGV[3], "exp", ARGV[4], "crt", ARGV[5], "state", "active")
redis.call("PEXPIRE", KEYS[1], ARGV[6])
redis.call("SET", KEYS[2], ARGV[7], "PX", ARGV[6])
redis.call("SADD", KEYS[3], ARGV[2])
local ttl = tonumber(ARGV[6])
if redis.call("PTTL", KEYS[3]) < ttl then
  redis.call("PEXPIRE", KEYS[3], ttl)
end
return 1
`

var saveLua = redis.NewScript(saveScript)

const rotateScript = `
local old_key = KEYS[1]
local new_key = KEYS[2]
local family_prefix = ARGV[1]
local refresh_prefix = ARGV[2]
local families_prefix = ARGV[3]
local next_digest = ARGV[4]
local now_ms = tonumber(ARGV[5])

local state = redis.call("HGET", old_key, "state")
if not state then
  return {0}
end

local uid = redis.call("HGET", old_key, "uid")
local fid = redis.call("HGET", old_key, "fid")
local exp_raw = redis.call("HGET", old_key, "exp")
if not uid or not fid or not exp_raw then
  return {4}
end
local family_key = family_prefix .. fid

if state ~= "active" then
  local current = redis.call("GET", family_key)
  if current then
    redis.call("DEL", refresh_prefix .. current)
  end
  redis.call("DEL", family_key)
  redis.call("SREM", families_prefix .. uid, fid)
  return {2, uid, fid}
end

local ttl = redis.call("PTTL", old_key)
if tonumber(exp_raw) <= now_ms or ttl <= 0 then
  redis.call("DEL", old_key)
  return {1}
end

local roles = redis.call("HGET", old_key, "roles") or ""
redis.call("HSET", old_key, "state", "rotated")
redis.call("HSET", new_key, "uid", uid, "fid", fid, "roles", roles, "exp", exp_raw, "crt", ARGV[5], "state", "active")
redis.call("PEXPIRE", new_key, ttl)
redis.call("SET", family_key, next_digest, "PX", ttl)

return {3, uid, fid, roles, exp_raw}
`

var rotateLua = redis.NewScript(rotateScript)

const revokeFamilyScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
local refresh_key = ARGV[1] .. current
local uid = redis.call("HGET", refresh_key, "uid")
redis.call("DEL", refresh_key, KEYS[1])
if uid then
  redis.call("SREM", ARGV[2] .. uid, ARGV[3])
end
return 1
`

var revokeFamilyLua = redis.NewScript(revokeFamilyScript)

// Record is the server-side state of one refresh token.
type Record struct {
	UserID    string
	FamilyID  string
	Roles     []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Options configures a [Store].
type Options struct {
	Prefix  string
	Timeout time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

// Store is the Redis-backed refresh token store. It is safe for concurrent use.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates a refresh [Store] backed by rdb.
func NewStore(rdb redis.UniversalClient, opts Options) *Store {
	s := &Store{
		redis:   rdb,
		prefix:  strings.TrimSuffix(opts.Prefix, ":"),
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.prefix == "" {
		s.prefix = "tg"
	}
	if s.timeout <= 0 {
		s.timeout = 500 * time.Millisecond
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Store) refreshPrefix() string  { return s.prefix + ":refresh:" }
func (s *Store) familyPrefix() string   { return s.prefix + ":family:" }
func (s *Store) familiesPrefix() string { return s.prefix + ":families:" }

func (s *Store) refreshKey(digest string) string  { return s.refreshPrefix() + digest }
func (s *Store) familyKey(familyID string) string { return s.familyPrefix() + familyID }
func (s *Store) familiesKey(userID string) string { return s.familiesPrefix() + userID }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Save stores token as the current member of rec.FamilyID until rec.ExpiresAt.
//
//	Performance: 1 EVALSHA.
func (s *Store) Save(ctx context.Context, token string, rec *Record) error {
	if token == "" || rec == nil || rec.UserID == "" || rec.FamilyID == "" {
		return errors.New("refresh record requires token, user and family")
	}
	for _, role := range rec.Roles {
		if strings.Contains(role, rolesSeparator) {
			return fmt.Errorf("role %q contains %q", role, rolesSeparator)
		}
	}
	now := s.now()
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return ErrExpired
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	digest := revocation.Digest(token)
	err := saveLua.Run(ctx, s.redis,
		[]string{s.refreshKey(digest), s.familyKey(rec.FamilyID), s.familiesKey(rec.UserID)},
		rec.UserID,
		rec.FamilyID,
		strings.Join(rec.Roles, rolesSeparator),
		rec.ExpiresAt.UnixMilli(),
		rec.CreatedAt.UnixMilli(),
		ttl.Milliseconds(),
		digest,
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Get returns the record for an active token.
func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.redis.HGetAll(ctx, s.refreshKey(revocation.Digest(token))).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 || fields["state"] != stateActive {
		return nil, ErrNotFound
	}
	rec, err := recordFromFields(fields)
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, ErrExpired
	}
	return rec, nil
}

// Rotate atomically retires presented and stores next in its place,
// preserving the family and its original expiry.
//
// Presenting a token that was already rotated revokes the whole family and
// returns [ErrReused] together with the partial record (UserID, FamilyID).
//
//	Performance: 1 EVALSHA.
func (s *Store) Rotate(ctx context.Context, presented, next string) (*Record, error) {
	if presented == "" || next == "" {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	nextDigest := revocation.Digest(next)
	result, err := rotateLua.Run(ctx, s.redis,
		[]string{s.refreshKey(revocation.Digest(presented)), s.refreshKey(nextDigest)},
		s.familyPrefix(),
		s.refreshPrefix(),
		s.familiesPrefix(),
		nextDigest,
		now.UnixMilli(),
	).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusCorrupt:
		return nil, ErrCorrupt
	case rotateStatusReused:
		rec := &Record{}
		if len(parts) >= 3 {
			rec.UserID, _ = parts[1].(string)
			rec.FamilyID, _ = parts[2].(string)
		}
		s.logger.Warn("refresh token reuse detected, family revoked",
			zap.String("user_id", rec.UserID),
			zap.String("family_id", rec.FamilyID),
		)
		return rec, ErrReused
	case rotateStatusRotated:
		if len(parts) < 5 {
			return nil, ErrCorrupt
		}
		fields := map[string]string{"state": stateActive}
		for i, name := range []string{"uid", "fid", "roles", "exp"} {
			v, _ := parts[i+1].(string)
			fields[name] = v
		}
		fields["crt"] = strconv.FormatInt(now.UnixMilli(), 10)
		return recordFromFields(fields)
	default:
		return nil, fmt.Errorf("%w: unknown rotate status %d", ErrStoreUnavailable, code)
	}
}

// RevokeFamily deletes the current token of familyID. Rotated tombstones
// stay until they expire so late replays are still recognized.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) error {
	if familyID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := revokeFamilyLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID)},
		s.refreshPrefix(),
		s.familiesPrefix(),
		familyID,
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// RevokeAllForUser revokes every live family of userID and returns how many
// were indexed.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	families, err := s.FamilyIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, fid := range families {
		if err := s.RevokeFamily(ctx, fid); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.redis.Del(ctx, s.familiesKey(userID)).Err(); err != nil {
		return 0, unavailable(err)
	}
	return len(families), nil
}

// FamilyIDs returns the indexed families of userID.
func (s *Store) FamilyIDs(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids, err := s.redis.SMembers(ctx, s.familiesKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, unavailable(err)
	}
	return ids, nil
}

func recordFromFields(fields map[string]string) (*Record, error) {
	uid, fid := fields["uid"], fields["fid"]
	if uid == "" || fid == "" {
		return nil, ErrCorrupt
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, ErrCorrupt
	}
	crt, _ := strconv.ParseInt(fields["crt"], 10, 64)

	var roles []string
	if r := fields["roles"]; r != "" {
		roles = strings.Split(r, rolesSeparator)
	}
	return &Record{
		UserID:    uid,
		FamilyID:  fid,
		Roles:     roles,
		CreatedAt: time.UnixMilli(crt),
		ExpiresAt: time.UnixMilli(exp),
	}, nil
}
