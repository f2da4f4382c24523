package authserver_test

import (
	"errors"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
	"git.sr.ht/~jakintosh/renew/internal/testutil"
)

func TestRegister_IssuesGrant(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)

	// registration logs the user in
	grant := env.RegisterTestUser(t, "alice", "password")
	if grant.Token == "" || grant.RefreshToken == "" {
		t.Fatal("expected tokens in grant")
	}
	if grant.ExpiresIn != int64(authserver.DefaultAccessTTL.Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", grant.ExpiresIn, int64(authserver.DefaultAccessTTL.Seconds()))
	}
	if grant.UserInfo == nil || grant.UserInfo.Username != "alice" || grant.UserInfo.Nickname != "alice" {
		t.Errorf("unexpected user info: %+v", grant.UserInfo)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)

	env.RegisterTestUser(t, "alice", "password")

	// second registration with the same name fails
	_, err := env.Service.Register(authserver.Registration{Username: "alice", Password: "password"})
	if !errors.Is(err, authserver.ErrAccountExists) {
		t.Errorf("expected ErrAccountExists, got %v", err)
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)

	cases := []authserver.Registration{
		{Username: "al", Password: "password"},
		{Username: "alice smith", Password: "password"},
		{Username: "alice", Password: "short"},
	}
	for _, reg := range cases {
		_, err := env.Service.Register(reg)
		if !errors.Is(err, authserver.ErrInvalidRequest) {
			t.Errorf("Register(%+v): expected ErrInvalidRequest, got %v", reg, err)
		}
	}
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	env.RegisterTestUser(t, "alice", "password")

	// correct password returns a fresh grant
	grant, err := env.Service.Login("alice", "password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// and its access token authenticates
	user, err := env.Service.Authenticate(grant.Token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Username = %s, want alice", user.Username)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	env.RegisterTestUser(t, "alice", "password")

	// wrong password
	_, err := env.Service.Login("alice", "wrong-password")
	if !errors.Is(err, authserver.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	// unknown user looks the same
	_, err = env.Service.Login("mallory", "password")
	if !errors.Is(err, authserver.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	first := env.RegisterTestUser(t, "alice", "password")

	// exchange succeeds once
	second, err := env.Service.Refresh(first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("expected a new refresh token")
	}

	// the consumed token is rejected
	_, err = env.Service.Refresh(first.RefreshToken)
	if !errors.Is(err, authserver.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}

	// the rotated one still works
	if _, err := env.Service.Refresh(second.RefreshToken); err != nil {
		t.Errorf("Refresh with rotated token failed: %v", err)
	}
	if env.Service.RefreshCalls() != 3 {
		t.Errorf("RefreshCalls = %d, want 3", env.Service.RefreshCalls())
	}
}

func TestRefresh_ExpiredToken(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t, authserver.WithTokenLifetimes(time.Minute, time.Hour))
	grant := env.RegisterTestUser(t, "alice", "password")

	// refresh tokens stop working after their lifetime
	env.Clock.Advance(time.Hour)
	_, err := env.Service.Refresh(grant.RefreshToken)
	if !errors.Is(err, authserver.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthenticate_ExpiredAccessToken(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t, authserver.WithTokenLifetimes(time.Minute, time.Hour))
	grant := env.RegisterTestUser(t, "alice", "password")

	// access tokens expire on the server clock
	env.Clock.Advance(2 * time.Minute)
	_, err := env.Service.Authenticate(grant.Token)
	if !errors.Is(err, authserver.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthenticate_ForeignSignature(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	grant := env.RegisterTestUser(t, "alice", "password")

	// a token signed by another issuer key is refused
	other := authserver.NewIssuer([]byte("another-key"), testutil.TestIssuerDomain, env.Clock.Now)
	forged, err := other.IssueAccessToken(&authserver.Account{ID: grant.UserInfo.ID, Username: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	if _, err := env.Service.Authenticate(forged); !errors.Is(err, authserver.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	grant := env.RegisterTestUser(t, "alice", "password")

	// logout revokes
	if err := env.Service.Logout(grant.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	// the revoked token can't refresh
	if _, err := env.Service.Refresh(grant.RefreshToken); !errors.Is(err, authserver.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}

	// a second logout reports the token missing
	if err := env.Service.Logout(grant.RefreshToken); !errors.Is(err, authserver.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestPasswordMode_Cost(t *testing.T) {
	t.Parallel()

	// testing mode is allowed under go test
	if authserver.PasswordModeTesting.Cost() >= authserver.PasswordModeProduction.Cost() {
		t.Error("expected testing cost below production cost")
	}
}
