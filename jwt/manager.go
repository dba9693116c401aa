package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrEncoding is returned when claims cannot be serialized or signed.
var ErrEncoding = errors.New("token encoding failed")

// ErrMalformedToken is returned for unparsable tokens and tokens that fail
// signature, algorithm, issuer, audience, or key-id checks.
var ErrMalformedToken = errors.New("malformed token")

// ErrExpired is returned by Verify when the token is past its expiry.
var ErrExpired = errors.New("token expired")

const refreshTokenSize = 32

// Claims carry microsecond timestamps so sub-second lifetimes survive
// encoding. The setting is process wide in golang-jwt.
func init() {
	jwt.TimePrecision = time.Microsecond
}

// SigningMethod selects the JWS algorithm used by a [Manager].
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Config defines signing keys and validation policy for a [Manager].
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the wall clock. Nil means time.Now.
	Now func() time.Time
}

// Manager is the token codec. It is stateless apart from its configuration
// and performs no I/O.
type Manager struct {
	config Config
}

// AccessClaims is the claim set carried by every access token.
type AccessClaims struct {
	Roles []string `json:"roles,omitempty"`
	SID   string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// IssueOption customizes a single Issue call.
type IssueOption func(*AccessClaims)

// WithSessionID pairs the token with a refresh-token family.
func WithSessionID(sid string) IssueOption {
	return func(c *AccessClaims) {
		c.SID = sid
	}
}

// NewManager validates cfg and returns a codec.
//
// NewManager may return an error when key material or validation bounds are invalid.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// Issue signs a token for subject carrying roles, a fresh jti, iat=now and
// exp=now+ttl. Serialization or signing failures wrap [ErrEncoding].
func (j *Manager) Issue(subject string, roles []string, ttl time.Duration, opts ...IssueOption) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: empty subject", ErrEncoding)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: non-positive ttl", ErrEncoding)
	}

	now := j.config.Now()
	claims := AccessClaims{
		Roles: append([]string(nil), roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiryAt(now, ttl)),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	for _, opt := range opts {
		opt(&claims)
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return signed, nil
}

// expiryAt rounds now+ttl up to the claim precision plus one unit. Decoding
// goes through float64 and may drop one unit, so the decoded expiry is never
// earlier than now+ttl.
func expiryAt(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if t := exp.Truncate(jwt.TimePrecision); t.Before(exp) {
		exp = t.Add(jwt.TimePrecision)
	}
	return exp.Add(jwt.TimePrecision)
}

// Verify checks signature and registered claims and returns the decoded
// claim set. It never consults revocation state.
//
// Expired tokens return [ErrExpired]; every other failure wraps [ErrMalformedToken].
func (j *Manager) Verify(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, j.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, jwt.ErrTokenInvalidClaims)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := j.config.Now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformedToken)
		}
	}

	return claims, nil
}

// IssueOpaqueRefreshToken returns 32 bytes from crypto/rand encoded as
// unpadded base64url. The value has no structure and carries no claims.
func (j *Manager) IssueOpaqueRefreshToken() (string, error) {
	var raw [refreshTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// Expiry returns the exp claim without checking the signature.
func (j *Manager) Expiry(tokenStr string) (time.Time, error) {
	claims, err := j.decode(tokenStr)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}
	return claims.ExpiresAt.Time, nil
}

// Subject returns the sub claim without checking the signature.
func (j *Manager) Subject(tokenStr string) (string, error) {
	claims, err := j.decode(tokenStr)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}
	return claims.Subject, nil
}

// Claims returns the role claims without checking the signature.
func (j *Manager) Claims(tokenStr string) ([]string, error) {
	claims, err := j.decode(tokenStr)
	if err != nil {
		return nil, err
	}
	return claims.Roles, nil
}

// IsExpiringSoon reports whether the remaining lifetime is at most
// threshold. Unparsable tokens are reported as expiring.
func (j *Manager) IsExpiringSoon(tokenStr string, threshold time.Duration) bool {
	exp, err := j.Expiry(tokenStr)
	if err != nil {
		return true
	}
	return exp.Sub(j.config.Now()) <= threshold
}

// Now returns the codec clock.
func (j *Manager) Now() time.Time {
	return j.config.Now()
}

func (j *Manager) decode(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.getVerifyKey()
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		if len(j.config.PrivateKey) == 0 {
			return nil, errors.New("verify-only manager cannot sign")
		}
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
