package database

import (
	"database/sql"
	"errors"
	"fmt"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
)

func (s *SQLiteStore) AccountStore() authserver.AccountStore {
	return s
}

func (s *SQLiteStore) InsertAccount(
	account *authserver.Account,
) error {
	_, err := s.db.Exec(`
		INSERT INTO identity (id, handle, email, nickname, avatar, secret)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6);`,
		account.ID,
		account.Username,
		account.Email,
		account.Nickname,
		account.Avatar,
		account.Secret,
	)
	if err != nil {
		return fmt.Errorf("couldn't insert into identity: %v", err)
	}
	return nil
}

func (s *SQLiteStore) GetAccount(
	username string,
) (
	*authserver.Account,
	error,
) {
	row := s.db.QueryRow(`
		SELECT id, handle, email, nickname, avatar, secret
		FROM identity i
		WHERE i.handle=?1;`,
		username,
	)
	return scanAccount(row, username)
}

func (s *SQLiteStore) GetAccountByID(
	id string,
) (
	*authserver.Account,
	error,
) {
	row := s.db.QueryRow(`
		SELECT id, handle, email, nickname, avatar, secret
		FROM identity i
		WHERE i.id=?1;`,
		id,
	)
	return scanAccount(row, id)
}

func scanAccount(
	row *sql.Row,
	lookup string,
) (
	*authserver.Account,
	error,
) {
	var a authserver.Account
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.Nickname, &a.Avatar, &a.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", authserver.ErrAccountNotFound, lookup)
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan identity: %v", err)
	}
	return &a, nil
}
