package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/tokenguard/jwt"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Verify       func(token string) (*jwt.AccessClaims, error)
	RevokeAccess func(ctx context.Context, userID, token string) error
	RevokeFamily func(ctx context.Context, familyID string) error
}

// LogoutResult reports which session was ended.
type LogoutResult struct {
	UserID   string
	FamilyID string
	Err      error
	// Invalid is set when the presented access token did not verify.
	Invalid bool
}

// RunLogout revokes the access token and the refresh family paired with it
// through the sid claim. Both revocations are attempted even if one fails.
func RunLogout(ctx context.Context, token string, deps LogoutDeps) LogoutResult {
	claims, err := deps.Verify(token)
	if err != nil {
		return LogoutResult{Err: err, Invalid: true}
	}

	result := LogoutResult{UserID: claims.Subject, FamilyID: claims.SID}

	accessErr := deps.RevokeAccess(ctx, claims.Subject, token)
	var familyErr error
	if claims.SID != "" && deps.RevokeFamily != nil {
		familyErr = deps.RevokeFamily(ctx, claims.SID)
	}
	result.Err = errors.Join(accessErr, familyErr)
	return result
}

// RevokeAllDeps captures bulk revocation dependencies.
type RevokeAllDeps struct {
	RevokeAccess  func(ctx context.Context, userID string) (int, error)
	RevokeRefresh func(ctx context.Context, userID string) (int, error)
}

// RevokeAllResult reports how many access tokens and refresh families were
// removed.
type RevokeAllResult struct {
	AccessTokens    int
	RefreshFamilies int
	Err             error
}

// RunRevokeAll removes every access token and refresh family of userID.
func RunRevokeAll(ctx context.Context, userID string, deps RevokeAllDeps) RevokeAllResult {
	var result RevokeAllResult

	n, accessErr := deps.RevokeAccess(ctx, userID)
	result.AccessTokens = n

	var refreshErr error
	if deps.RevokeRefresh != nil {
		result.RefreshFamilies, refreshErr = deps.RevokeRefresh(ctx, userID)
	}

	result.Err = errors.Join(accessErr, refreshErr)
	return result
}
