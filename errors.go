package tokenguard

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/revocation"
)

var (
	// ErrUnauthorized is the only error Validate returns. Expired, malformed,
	// revoked, and store-unreachable tokens are indistinguishable to callers.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned by Login when the credential verifier rejects the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid is returned by Logout for an access token that does not verify.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenRefresh is returned for unknown, expired, or reused refresh tokens.
	// The caller must log in again.
	ErrTokenRefresh = errors.New("token refresh failed")
	// ErrRefreshReuse is returned when a rotated refresh token is presented
	// again. It matches ErrTokenRefresh.
	ErrRefreshReuse = fmt.Errorf("%w: refresh token reuse detected", ErrTokenRefresh)
	// ErrEngineNotReady is returned when a nil or partially built Engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrSessionInvalidationFailed is returned when bulk revocation did not complete.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrInvalidUserID is returned for empty user identifiers.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrEncoding is returned when claims cannot be serialized or signed.
	ErrEncoding = jwt.ErrEncoding
	// ErrMalformedToken is returned for tokens that cannot be parsed or verified.
	ErrMalformedToken = jwt.ErrMalformedToken
	// ErrStoreUnavailable is returned when the revocation cache cannot be reached.
	ErrStoreUnavailable = revocation.ErrStoreUnavailable
)
