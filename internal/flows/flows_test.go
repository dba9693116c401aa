package flows

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/refresh"
	"github.com/MrEthical07/tokenguard/revocation"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type issueRecorder struct {
	registered []string
	revoked    []string
	failIssue  error
	failReg    error
}

func (r *issueRecorder) deps() IssueDeps {
	return IssueDeps{
		IssueAccess: func(subject string, roles []string, ttl time.Duration, familyID string) (string, error) {
			if r.failIssue != nil {
				return "", r.failIssue
			}
			return fmt.Sprintf("tok-%s-%s-%d", subject, familyID, len(r.registered)), nil
		},
		AccessExpiry: func(string) (time.Time, error) { return fixedNow.Add(time.Minute), nil },
		Register: func(_ context.Context, _ string, token string, _ time.Time) error {
			if r.failReg != nil {
				return r.failReg
			}
			r.registered = append(r.registered, token)
			return nil
		},
	}
}

func TestRunIssueDiscardsUnregisteredToken(t *testing.T) {
	boom := errors.New("redis down")
	rec := &issueRecorder{failReg: boom}

	res := RunIssue(context.Background(), "u1", nil, time.Minute, "", rec.deps())
	if res.Failure != IssueFailureRegister {
		t.Fatalf("expected register failure, got %v", res.Failure)
	}
	if res.Token != "" {
		t.Fatal("token must not be returned when registration fails")
	}
	if !errors.Is(res.Err, boom) {
		t.Fatalf("expected wrapped cause, got %v", res.Err)
	}
}

func loginDeps(rec *issueRecorder, save func(context.Context, string, *refresh.Record) error) LoginDeps {
	return LoginDeps{
		Issue:           rec.deps(),
		NewFamilyID:     func() string { return "fam-1" },
		NewRefreshToken: func() (string, error) { return "refresh-1", nil },
		SaveRefresh:     save,
		RevokeAccess: func(_ context.Context, _ string, token string) error {
			rec.revoked = append(rec.revoked, token)
			return nil
		},
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Now:        func() time.Time { return fixedNow },
	}
}

func TestRunLoginPairsTokens(t *testing.T) {
	rec := &issueRecorder{}
	var saved *refresh.Record
	res := RunLogin(context.Background(), "u1", []string{"member"}, loginDeps(rec, func(_ context.Context, token string, r *refresh.Record) error {
		if token != "refresh-1" {
			t.Fatalf("unexpected refresh token %q", token)
		}
		saved = r
		return nil
	}))

	if res.Failure != LoginFailureNone {
		t.Fatalf("expected success, got %v: %v", res.Failure, res.Err)
	}
	if res.AccessToken != "tok-u1-fam-1-0" || res.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected pair %q / %q", res.AccessToken, res.RefreshToken)
	}
	if saved == nil || saved.FamilyID != "fam-1" || !saved.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Fatalf("unexpected saved record %+v", saved)
	}
}

func TestRunLoginRollsBackAccessWhenRefreshSaveFails(t *testing.T) {
	rec := &issueRecorder{}
	boom := errors.New("redis down")
	res := RunLogin(context.Background(), "u1", nil, loginDeps(rec, func(context.Context, string, *refresh.Record) error {
		return boom
	}))

	if res.Failure != LoginFailureSaveRefresh {
		t.Fatalf("expected save failure, got %v", res.Failure)
	}
	if len(rec.revoked) != 1 || rec.revoked[0] != rec.registered[0] {
		t.Fatalf("expected registered access token to be revoked, got %v", rec.revoked)
	}
	if res.AccessToken != "" || res.RefreshToken != "" {
		t.Fatal("no tokens may be returned on failure")
	}
}

type fakeRefreshStore struct {
	rec          *refresh.Record
	err          error
	revokedFams  []string
	rotatedCalls int
}

func (s *fakeRefreshStore) Rotate(context.Context, string, string) (*refresh.Record, error) {
	s.rotatedCalls++
	return s.rec, s.err
}

func (s *fakeRefreshStore) RevokeFamily(_ context.Context, familyID string) error {
	s.revokedFams = append(s.revokedFams, familyID)
	return nil
}

func TestRunRefreshClassifiesStoreErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want RefreshFailureKind
	}{
		{name: "not found", err: refresh.ErrNotFound, want: RefreshFailureNotFound},
		{name: "expired", err: refresh.ErrExpired, want: RefreshFailureExpired},
		{name: "store", err: fmt.Errorf("%w: timeout", refresh.ErrStoreUnavailable), want: RefreshFailureRotate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeRefreshStore{err: tc.err}
			res := RunRefresh(context.Background(), "r", RefreshDeps{
				Issue:           (&issueRecorder{}).deps(),
				NewRefreshToken: func() (string, error) { return "next", nil },
				Store:           store,
				AccessTTL:       time.Minute,
			})
			if res.Failure != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, res.Failure)
			}
		})
	}
}

func TestRunRefreshReuseRevokesAccess(t *testing.T) {
	store := &fakeRefreshStore{
		rec: &refresh.Record{UserID: "u1", FamilyID: "fam-1"},
		err: refresh.ErrReused,
	}
	var revokedUser string
	res := RunRefresh(context.Background(), "r", RefreshDeps{
		Issue:            (&issueRecorder{}).deps(),
		NewRefreshToken:  func() (string, error) { return "next", nil },
		Store:            store,
		AccessTTL:        time.Minute,
		RevokeAllOnReuse: true,
		RevokeAllAccess: func(_ context.Context, userID string) error {
			revokedUser = userID
			return nil
		},
	})
	if res.Failure != RefreshFailureReuse {
		t.Fatalf("expected reuse, got %v", res.Failure)
	}
	if revokedUser != "u1" || res.FamilyID != "fam-1" {
		t.Fatalf("expected u1 access revoked for fam-1, got %q / %q", revokedUser, res.FamilyID)
	}
}

func TestRunRefreshIssueFailureDropsFamily(t *testing.T) {
	store := &fakeRefreshStore{rec: &refresh.Record{UserID: "u1", FamilyID: "fam-9"}}
	res := RunRefresh(context.Background(), "r", RefreshDeps{
		Issue:           (&issueRecorder{failReg: errors.New("redis down")}).deps(),
		NewRefreshToken: func() (string, error) { return "next", nil },
		Store:           store,
		AccessTTL:       time.Minute,
	})
	if res.Failure != RefreshFailureIssueAccess {
		t.Fatalf("expected issue failure, got %v", res.Failure)
	}
	if len(store.revokedFams) != 1 || store.revokedFams[0] != "fam-9" {
		t.Fatalf("expected fam-9 revoked, got %v", store.revokedFams)
	}
	if res.RefreshToken != "" {
		t.Fatal("rotated successor must not be returned")
	}
}

func TestRunValidateClassification(t *testing.T) {
	claims := &jwt.AccessClaims{}
	claims.Subject = "u1"

	cases := []struct {
		name      string
		verifyErr error
		checkOK   bool
		checkErr  error
		want      ValidateFailureKind
	}{
		{name: "ok", checkOK: true, want: ValidateFailureNone},
		{name: "expired", verifyErr: jwt.ErrExpired, want: ValidateFailureExpired},
		{name: "malformed", verifyErr: fmt.Errorf("%w: bad signature", jwt.ErrMalformedToken), want: ValidateFailureMalformed},
		{name: "revoked", checkOK: false, want: ValidateFailureRevoked},
		{name: "store down", checkErr: fmt.Errorf("%w: dial", revocation.ErrStoreUnavailable), want: ValidateFailureStoreUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := RunValidate(context.Background(), "token", ValidateDeps{
				Verify: func(string) (*jwt.AccessClaims, error) {
					if tc.verifyErr != nil {
						return nil, tc.verifyErr
					}
					return claims, nil
				},
				Check: func(context.Context, string, string) (bool, error) {
					return tc.checkOK, tc.checkErr
				},
			})
			if res.Failure != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, res.Failure)
			}
			if tc.want == ValidateFailureNone && res.Claims != claims {
				t.Fatal("expected claims on success")
			}
		})
	}
}

func TestValidateFailureKindString(t *testing.T) {
	if got := ValidateFailureStoreUnavailable.String(); got != "store_unavailable" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := ValidateFailureKind(99).String(); got != "unknown" {
		t.Fatalf("unexpected label %q", got)
	}
}
