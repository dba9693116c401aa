package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/revocation"
)

// ValidateFailureKind classifies validation failures. The root package
// collapses every kind to a single unauthorized result; the kind is only
// used for metrics, audit, and logs.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureMalformed
	ValidateFailureExpired
	ValidateFailureRevoked
	ValidateFailureStoreUnavailable
)

// String returns the reason label used in audit metadata and logs.
func (k ValidateFailureKind) String() string {
	switch k {
	case ValidateFailureNone:
		return "none"
	case ValidateFailureMalformed:
		return "malformed"
	case ValidateFailureExpired:
		return "expired"
	case ValidateFailureRevoked:
		return "revoked"
	case ValidateFailureStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// ValidateResult returns either verified claims or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
}

// ValidateDeps captures validation dependencies.
type ValidateDeps struct {
	Verify func(token string) (*jwt.AccessClaims, error)
	Check  func(ctx context.Context, userID, token string) (bool, error)
}

// RunValidate verifies the token cryptographically and then confirms it is
// still registered. A store fault is a failure, never a pass.
func RunValidate(ctx context.Context, token string, deps ValidateDeps) ValidateResult {
	claims, err := deps.Verify(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return ValidateResult{Failure: ValidateFailureExpired, Err: err}
		}
		return ValidateResult{Failure: ValidateFailureMalformed, Err: err}
	}

	ok, err := deps.Check(ctx, claims.Subject, token)
	if err != nil {
		if errors.Is(err, revocation.ErrStoreUnavailable) {
			return ValidateResult{Failure: ValidateFailureStoreUnavailable, Err: err, Claims: claims}
		}
		return ValidateResult{Failure: ValidateFailureRevoked, Err: err, Claims: claims}
	}
	if !ok {
		return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
	}

	return ValidateResult{Claims: claims}
}
