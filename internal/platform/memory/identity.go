// Package memory provides in-process platform adapters used by tests and the
// offline terminal mode.
package memory

import (
	"context"
	"sync"

	"omnichat/internal/models"
	"omnichat/internal/platform"
)

// Identity signs in as a fixed user.
type Identity struct {
	mu       sync.RWMutex
	user     models.User
	signedIn bool
	// SignInErr, when set, is returned by SignIn.
	SignInErr error
}

func NewIdentity(user models.User, signedIn bool) *Identity {
	return &Identity{user: user, signedIn: signedIn}
}

func (i *Identity) IsSignedIn() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.signedIn
}

func (i *Identity) SignIn(ctx context.Context) error {
	if i.SignInErr != nil {
		return i.SignInErr
	}
	i.mu.Lock()
	i.signedIn = true
	i.mu.Unlock()
	return nil
}

func (i *Identity) SignOut(ctx context.Context) error {
	i.mu.Lock()
	i.signedIn = false
	i.mu.Unlock()
	return nil
}

func (i *Identity) User(ctx context.Context) (*models.User, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if !i.signedIn {
		return nil, platform.ErrNotSignedIn
	}
	u := i.user
	return &u, nil
}
