package auth

import (
	"context"
	"errors"
	"sync"

	"omnichat/internal/models"
	"omnichat/internal/platform"
)

// Identity binds an account to platform.Identity. The terminal shell builds one
// from a credential pair; the HTTP shell from a token the middleware already
// validated.
type Identity struct {
	svc *Service

	mu       sync.Mutex
	username string
	password string
	token    string
	account  *models.Account
}

var _ platform.Identity = (*Identity)(nil)

// CredentialIdentity signs in with username and password on SignIn, creating
// the account on first use.
func (s *Service) CredentialIdentity(username, password string) *Identity {
	return &Identity{svc: s, username: username, password: password}
}

// TokenIdentity returns a signed-in identity for a validated token.
func (s *Service) TokenIdentity(ctx context.Context, token string) (*Identity, error) {
	userID, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	account, err := s.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Identity{svc: s, token: token, account: account}, nil
}

// AccountIdentity returns a signed-in identity for an account loaded elsewhere.
func (s *Service) AccountIdentity(account *models.Account, token string) *Identity {
	return &Identity{svc: s, token: token, account: account}
}

func (i *Identity) IsSignedIn() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.account != nil
}

func (i *Identity) SignIn(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.account != nil {
		return nil
	}
	if i.username == "" || i.password == "" {
		return ErrCredentialsRequired
	}
	account, err := i.svc.Login(ctx, i.username, i.password)
	if errors.Is(err, ErrUserNotFound) {
		account, err = i.svc.Register(ctx, i.username, i.password)
	}
	if err != nil {
		return err
	}
	token, err := i.svc.IssueToken(ctx, account.ID)
	if err != nil {
		return err
	}
	i.account = account
	i.token = token
	return nil
}

// SignOut revokes the session token.
func (i *Identity) SignOut(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.account == nil {
		return nil
	}
	if err := i.svc.RevokeToken(ctx, i.token); err != nil {
		return err
	}
	i.account = nil
	i.token = ""
	return nil
}

func (i *Identity) User(ctx context.Context) (*models.User, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.account == nil {
		return nil, platform.ErrNotSignedIn
	}
	return i.account.User(), nil
}

// Token returns the bearer token of the signed-in account.
func (i *Identity) Token() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.token
}
