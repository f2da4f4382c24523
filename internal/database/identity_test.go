package database_test

import (
	"errors"
	"testing"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
)

func testAccount(id, username string) *authserver.Account {
	return &authserver.Account{
		ID:       id,
		Username: username,
		Email:    username + "@example.com",
		Nickname: username,
		Secret:   []byte("hashed-password"),
	}
}

func TestInsertAccount_Success(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	// inserting a new account succeeds
	if err := store.InsertAccount(testAccount("u1", "alice")); err != nil {
		t.Fatalf("InsertAccount failed: %v", err)
	}
}

func TestInsertAccount_DuplicateHandle(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	// first insert succeeds
	if err := store.InsertAccount(testAccount("u1", "alice")); err != nil {
		t.Fatalf("InsertAccount failed: %v", err)
	}

	// second insert with same handle fails
	if err := store.InsertAccount(testAccount("u2", "alice")); err == nil {
		t.Fatal("expected error for duplicate handle")
	}
}

func TestGetAccount_ExistingUser(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	if err := store.InsertAccount(testAccount("u1", "bob")); err != nil {
		t.Fatalf("InsertAccount failed: %v", err)
	}

	// lookup by handle
	account, err := store.GetAccount("bob")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.ID != "u1" || account.Email != "bob@example.com" {
		t.Errorf("unexpected account: %+v", account)
	}
	if string(account.Secret) != "hashed-password" {
		t.Errorf("Secret = %s, want hashed-password", string(account.Secret))
	}

	// lookup by id
	account, err = store.GetAccountByID("u1")
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if account.Username != "bob" {
		t.Errorf("Username = %s, want bob", account.Username)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	// unknown accounts report ErrAccountNotFound
	_, err := store.GetAccount("nobody")
	if !errors.Is(err, authserver.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
	_, err = store.GetAccountByID("nobody")
	if !errors.Is(err, authserver.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}
