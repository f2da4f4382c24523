package authserver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// UserInfo is the public view of an Account.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// Grant is what login, register and refresh hand back to the client.
type Grant struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int64     `json:"expiresIn"`
	UserInfo     *UserInfo `json:"userInfo,omitempty"`
}

type Registration struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

func (s *Service) Register(
	reg Registration,
) (
	*Grant,
	error,
) {
	if !usernamePattern.MatchString(reg.Username) {
		return nil, fmt.Errorf("%w: username must be 3-32 letters, digits, '.', '_' or '-'", ErrInvalidRequest)
	}
	if len(reg.Password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidRequest)
	}

	_, err := s.accounts.GetAccount(reg.Username)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, reg.Username)
	case !errors.Is(err, ErrAccountNotFound):
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.passwordMode.Cost())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to hash password: %v", ErrInternal, err)
	}

	nickname := reg.Nickname
	if nickname == "" {
		nickname = reg.Username
	}
	account := &Account{
		ID:       uuid.NewString(),
		Username: reg.Username,
		Email:    strings.TrimSpace(reg.Email),
		Nickname: nickname,
		Secret:   hash,
	}
	if err := s.accounts.InsertAccount(account); err != nil {
		return nil, fmt.Errorf("%w: failed to insert account: %v", ErrInternal, err)
	}

	s.logger.Info("account registered", "user_id", account.ID, "username", account.Username)
	return s.grant(account)
}

func (s *Service) Login(
	username string,
	password string,
) (
	*Grant,
	error,
) {
	account, err := s.accounts.GetAccount(username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: failed to retrieve account: %v", ErrInternal, err)
	}

	if err := bcrypt.CompareHashAndPassword(account.Secret, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.logger.Info("login", "user_id", account.ID)
	return s.grant(account)
}

// Refresh exchanges a refresh token for a new grant. The presented token is
// consumed whether or not it turns out to be expired.
func (s *Service) Refresh(
	refreshToken string,
) (
	*Grant,
	error,
) {
	s.refreshCalls.Add(1)

	if refreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh token", ErrTokenInvalid)
	}

	owner, expiration, err := s.refresh.ConsumeRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, fmt.Errorf("%w: refresh token not recognized", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("%w: couldn't consume refresh token: %v", ErrInternal, err)
	}
	if !s.now().Before(expiration) {
		return nil, fmt.Errorf("%w: refresh token expired", ErrTokenInvalid)
	}

	account, err := s.accounts.GetAccountByID(owner)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token owner missing: %v", ErrInternal, err)
	}

	s.logger.Debug("refresh token exchanged", "user_id", account.ID)
	return s.grant(account)
}

func (s *Service) Logout(
	refreshToken string,
) error {
	deleted, err := s.refresh.DeleteRefreshToken(refreshToken)
	if err != nil {
		return fmt.Errorf("%w: failed to delete refresh token: %v", ErrInternal, err)
	}
	if !deleted {
		return ErrTokenNotFound
	}
	return nil
}

// Authenticate resolves an access token to the account it was issued for.
func (s *Service) Authenticate(
	accessToken string,
) (
	*UserInfo,
	error,
) {
	claims, err := s.issuer.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetAccountByID(claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: unknown subject", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return userInfo(account), nil
}

func (s *Service) grant(
	account *Account,
) (
	*Grant,
	error,
) {
	accessToken, err := s.issuer.IssueAccessToken(account, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	refreshToken := s.issuer.NewRefreshToken()
	err = s.refresh.InsertRefreshToken(
		refreshToken,
		account.ID,
		s.now().Add(s.refreshTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to store refresh token: %v", ErrInternal, err)
	}

	return &Grant{
		Token:        accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		UserInfo:     userInfo(account),
	}, nil
}

func userInfo(account *Account) *UserInfo {
	return &UserInfo{
		ID:       account.ID,
		Username: account.Username,
		Email:    account.Email,
		Nickname: account.Nickname,
		Avatar:   account.Avatar,
	}
}
