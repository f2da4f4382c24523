package authserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are carried by every access token.
type AccessClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 access tokens and mints opaque refresh
// tokens.
type Issuer struct {
	key    []byte
	domain string
	now    func() time.Time
}

func NewIssuer(
	key []byte,
	domain string,
	now func() time.Time,
) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{key: key, domain: domain, now: now}
}

func (i *Issuer) IssueAccessToken(
	account *Account,
	lifetime time.Duration,
) (string, error) {
	now := i.now()
	claims := AccessClaims{
		Username: account.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.domain,
			Subject:   account.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	token, err := jwt.
		NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("couldn't sign access token: %w", err)
	}
	return token, nil
}

// VerifyAccessToken checks signature, issuer and lifetime and returns the
// token's claims.
func (i *Issuer) VerifyAccessToken(encoded string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(
		encoded,
		claims,
		func(*jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.domain),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}

func (i *Issuer) NewRefreshToken() string {
	return "rt_" + uuid.NewString()
}
