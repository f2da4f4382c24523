package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Get implements session.KV.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	row := s.db.QueryRow(`
		SELECT value
		FROM kv
		WHERE key=?1;`,
		key,
	)

	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("couldn't scan kv value: %v", err)
	}
	return value, true, nil
}

// SetAll writes every entry in one transaction.
func (s *SQLiteStore) SetAll(entries map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("couldn't begin kv transaction: %v", err)
	}
	defer tx.Rollback()

	for key, value := range entries {
		_, err := tx.Exec(`
			INSERT INTO kv (key, value)
			VALUES (?1, ?2)
			ON CONFLICT (key) DO UPDATE SET value=excluded.value;`,
			key,
			value,
		)
		if err != nil {
			return fmt.Errorf("couldn't upsert into kv: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("couldn't commit kv transaction: %v", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	_, err := s.db.Exec(
		fmt.Sprintf(`DELETE FROM kv WHERE key IN (%s);`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("couldn't delete from kv: %v", err)
	}
	return nil
}
