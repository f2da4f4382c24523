package database_test

import (
	"errors"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
	"git.sr.ht/~jakintosh/renew/internal/database"
)

func setupRefreshStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	store := setupStore(t)

	// refresh tokens need owners
	for _, a := range []*authserver.Account{testAccount("u1", "alice"), testAccount("u2", "bob")} {
		if err := store.InsertAccount(a); err != nil {
			t.Fatalf("InsertAccount failed: %v", err)
		}
	}
	return store
}

func TestInsertRefreshToken_Success(t *testing.T) {
	t.Parallel()
	store := setupRefreshStore(t)

	// inserting a refresh token succeeds
	err := store.InsertRefreshToken("rt-1", "u1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("InsertRefreshToken failed: %v", err)
	}
}

func TestInsertRefreshToken_UnknownOwner(t *testing.T) {
	t.Parallel()
	store := setupRefreshStore(t)

	// foreign key rejects tokens for unknown accounts
	err := store.InsertRefreshToken("rt-1", "ghost", time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("expected error for unknown owner")
	}
}

func TestConsumeRefreshToken_OnlyOnce(t *testing.T) {
	t.Parallel()
	store := setupRefreshStore(t)

	// setup
	expiration := time.Now().Add(time.Hour).Truncate(time.Second)
	if err := store.InsertRefreshToken("rt-1", "u2", expiration); err != nil {
		t.Fatalf("InsertRefreshToken failed: %v", err)
	}

	// first consume returns the owner
	owner, exp, err := store.ConsumeRefreshToken("rt-1")
	if err != nil {
		t.Fatalf("ConsumeRefreshToken failed: %v", err)
	}
	if owner != "u2" {
		t.Errorf("owner = %s, want u2", owner)
	}
	if !exp.Equal(expiration) {
		t.Errorf("expiration = %v, want %v", exp, expiration)
	}

	// second consume finds nothing
	_, _, err = store.ConsumeRefreshToken("rt-1")
	if !errors.Is(err, authserver.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestDeleteRefreshToken(t *testing.T) {
	t.Parallel()
	store := setupRefreshStore(t)

	if err := store.InsertRefreshToken("rt-1", "u1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("InsertRefreshToken failed: %v", err)
	}

	// existing token is deleted
	deleted, err := store.DeleteRefreshToken("rt-1")
	if err != nil {
		t.Fatalf("DeleteRefreshToken failed: %v", err)
	}
	if !deleted {
		t.Error("expected token to be deleted")
	}

	// deleting again reports nothing deleted
	deleted, err = store.DeleteRefreshToken("rt-1")
	if err != nil {
		t.Fatalf("DeleteRefreshToken failed: %v", err)
	}
	if deleted {
		t.Error("expected nothing deleted")
	}
}
