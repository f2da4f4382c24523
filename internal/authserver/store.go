package authserver

import "time"

// Account is a registered user as kept by an AccountStore.
type Account struct {
	ID       string
	Username string
	Email    string
	Nickname string
	Avatar   string
	Secret   []byte
}

// AccountStore handles persistence of user accounts. Lookups of unknown
// accounts return an error wrapping ErrAccountNotFound.
type AccountStore interface {
	InsertAccount(account *Account) error
	GetAccount(username string) (*Account, error)
	GetAccountByID(id string) (*Account, error)
}

// RefreshStore handles persistence of issued refresh tokens. Consuming a
// token removes it, so each refresh token can be exchanged once.
type RefreshStore interface {
	InsertRefreshToken(token string, owner string, expiration time.Time) error
	ConsumeRefreshToken(token string) (owner string, expiration time.Time, err error)
	DeleteRefreshToken(token string) (deleted bool, err error)
}
