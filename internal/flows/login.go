package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/tokenguard/refresh"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureIssueAccess
	LoginFailureRefreshSecret
	LoginFailureSaveRefresh
)

// LoginResult carries the issued token pair or failure metadata.
type LoginResult struct {
	Failure      LoginFailureKind
	Err          error
	UserID       string
	FamilyID     string
	AccessToken  string
	RefreshToken string
}

// LoginDeps captures the session issuance dependencies. Credential
// verification happens in the root package before the flow runs.
type LoginDeps struct {
	Issue           IssueDeps
	NewFamilyID     func() string
	NewRefreshToken func() (string, error)
	SaveRefresh     func(ctx context.Context, token string, rec *refresh.Record) error
	RevokeAccess    func(ctx context.Context, userID, token string) error
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	Now             func() time.Time
	Warn            func(msg string, err error)
}

// RunLogin issues an access token paired through its sid claim with a new
// refresh family. If the refresh record cannot be persisted the already
// registered access token is revoked so no half-session survives.
func RunLogin(ctx context.Context, userID string, roles []string, deps LoginDeps) LoginResult {
	familyID := deps.NewFamilyID()

	issued := RunIssue(ctx, userID, roles, deps.AccessTTL, familyID, deps.Issue)
	if issued.Failure != IssueFailureNone {
		return LoginResult{
			Failure:  LoginFailureIssueAccess,
			Err:      issued.Err,
			UserID:   userID,
			FamilyID: familyID,
		}
	}

	refreshToken, err := deps.NewRefreshToken()
	if err != nil {
		rollbackAccess(ctx, userID, issued.Token, deps)
		return LoginResult{
			Failure:  LoginFailureRefreshSecret,
			Err:      err,
			UserID:   userID,
			FamilyID: familyID,
		}
	}

	now := deps.Now()
	err = deps.SaveRefresh(ctx, refreshToken, &refresh.Record{
		UserID:    userID,
		FamilyID:  familyID,
		Roles:     roles,
		CreatedAt: now,
		ExpiresAt: now.Add(deps.RefreshTTL),
	})
	if err != nil {
		rollbackAccess(ctx, userID, issued.Token, deps)
		return LoginResult{
			Failure:  LoginFailureSaveRefresh,
			Err:      err,
			UserID:   userID,
			FamilyID: familyID,
		}
	}

	return LoginResult{
		UserID:       userID,
		FamilyID:     familyID,
		AccessToken:  issued.Token,
		RefreshToken: refreshToken,
	}
}

func rollbackAccess(ctx context.Context, userID, token string, deps LoginDeps) {
	if deps.RevokeAccess == nil {
		return
	}
	if err := deps.RevokeAccess(ctx, userID, token); err != nil && deps.Warn != nil {
		deps.Warn("access token rollback failed", err)
	}
}
