package flows

import (
	"context"
	"time"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Issue     IssueDeps
	Login     LoginDeps
	Refresh   RefreshDeps
	Validate  ValidateDeps
	Logout    LogoutDeps
	RevokeAll RevokeAllDeps
}

// IssueDeps captures what is needed to mint and register one access token.
type IssueDeps struct {
	IssueAccess  func(subject string, roles []string, ttl time.Duration, familyID string) (string, error)
	AccessExpiry func(token string) (time.Time, error)
	Register     func(ctx context.Context, userID, token string, expiry time.Time) error
}

// IssueFailureKind classifies issuance failures.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureEncode
	IssueFailureExpiry
	IssueFailureRegister
)

// IssueResult carries the registered token or the failing step.
type IssueResult struct {
	Failure   IssueFailureKind
	Err       error
	Token     string
	ExpiresAt time.Time
}

// RunIssue signs a token and registers it as active. A token whose
// registration fails is discarded and never returned.
func RunIssue(ctx context.Context, subject string, roles []string, ttl time.Duration, familyID string, deps IssueDeps) IssueResult {
	token, err := deps.IssueAccess(subject, roles, ttl, familyID)
	if err != nil {
		return IssueResult{Failure: IssueFailureEncode, Err: err}
	}

	expiry, err := deps.AccessExpiry(token)
	if err != nil {
		return IssueResult{Failure: IssueFailureExpiry, Err: err}
	}

	if err := deps.Register(ctx, subject, token, expiry); err != nil {
		return IssueResult{Failure: IssueFailureRegister, Err: err}
	}

	return IssueResult{Token: token, ExpiresAt: expiry}
}
