package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
)

func (s *SQLiteStore) RefreshStore() authserver.RefreshStore {
	return s
}

func (s *SQLiteStore) InsertRefreshToken(
	token string,
	owner string,
	expiration time.Time,
) error {
	_, err := s.db.Exec(`
		INSERT INTO refresh (owner, token, expiration)
		VALUES (?1, ?2, ?3);`,
		owner,
		token,
		expiration.Unix(),
	)
	if err != nil {
		return fmt.Errorf("couldn't insert into refresh: %v", err)
	}
	return nil
}

// ConsumeRefreshToken deletes the token and returns who it belonged to.
func (s *SQLiteStore) ConsumeRefreshToken(
	token string,
) (
	string,
	time.Time,
	error,
) {
	row := s.db.QueryRow(`
		DELETE FROM refresh
		WHERE token=?1
		RETURNING owner, expiration;`,
		token,
	)

	var (
		owner      string
		expiration int64
	)
	err := row.Scan(&owner, &expiration)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, authserver.ErrTokenNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("couldn't consume refresh token: %v", err)
	}
	return owner, time.Unix(expiration, 0), nil
}

func (s *SQLiteStore) DeleteRefreshToken(
	token string,
) (
	bool,
	error,
) {
	result, err := s.db.Exec(`
		DELETE FROM refresh
		WHERE token=?1;`,
		token,
	)
	if err != nil {
		return false, fmt.Errorf("couldn't delete from refresh: %v", err)
	}

	deleted := !resultsEmpty(result)
	return deleted, nil
}

func resultsEmpty(result sql.Result) bool {
	count, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return count == 0
}
