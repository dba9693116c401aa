package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tokenguard/refresh"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNextSecret
	RefreshFailureNotFound
	RefreshFailureExpired
	RefreshFailureReuse
	RefreshFailureRotate
	RefreshFailureIssueAccess
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	UserID       string
	FamilyID     string
	AccessToken  string
	RefreshToken string
}

type RefreshStore interface {
	Rotate(ctx context.Context, presented, next string) (*refresh.Record, error)
	RevokeFamily(ctx context.Context, familyID string) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Issue            IssueDeps
	NewRefreshToken  func() (string, error)
	Store            RefreshStore
	AccessTTL        time.Duration
	RevokeAllOnReuse bool
	RevokeAllAccess  func(ctx context.Context, userID string) error
	Warn             func(msg string, err error)
}

// RunRefresh rotates the presented refresh token and issues a new access
// token in the same family. Rotation happens before issuance so two
// concurrent refreshes of one token cannot both mint access tokens.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	next, err := deps.NewRefreshToken()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureNextSecret, Err: err}
	}

	rec, err := deps.Store.Rotate(ctx, refreshToken, next)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrReused):
			result := RefreshResult{Failure: RefreshFailureReuse, Err: err}
			if rec != nil {
				result.UserID = rec.UserID
				result.FamilyID = rec.FamilyID
				if deps.RevokeAllOnReuse && deps.RevokeAllAccess != nil && rec.UserID != "" {
					if revokeErr := deps.RevokeAllAccess(ctx, rec.UserID); revokeErr != nil && deps.Warn != nil {
						deps.Warn("revoke access tokens after refresh reuse failed", revokeErr)
					}
				}
			}
			return result
		case errors.Is(err, refresh.ErrNotFound):
			return RefreshResult{Failure: RefreshFailureNotFound, Err: err}
		case errors.Is(err, refresh.ErrExpired):
			return RefreshResult{Failure: RefreshFailureExpired, Err: err}
		default:
			return RefreshResult{Failure: RefreshFailureRotate, Err: err}
		}
	}

	issued := RunIssue(ctx, rec.UserID, rec.Roles, deps.AccessTTL, rec.FamilyID, deps.Issue)
	if issued.Failure != IssueFailureNone {
		// The rotated successor was never handed out; drop the family so it
		// cannot be redeemed later.
		if revokeErr := deps.Store.RevokeFamily(ctx, rec.FamilyID); revokeErr != nil && deps.Warn != nil {
			deps.Warn("revoke family after failed issuance failed", revokeErr)
		}
		return RefreshResult{
			Failure:  RefreshFailureIssueAccess,
			Err:      issued.Err,
			UserID:   rec.UserID,
			FamilyID: rec.FamilyID,
		}
	}

	return RefreshResult{
		UserID:       rec.UserID,
		FamilyID:     rec.FamilyID,
		AccessToken:  issued.Token,
		RefreshToken: next,
	}
}
