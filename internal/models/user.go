package models

import "time"

// User is the identity exposed to the application.
type User struct {
	Username string `json:"username"`
	UID      string `json:"uid"`
}

// Account is the stored credential record behind a User.
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// User projects the account onto the application identity.
func (a *Account) User() *User {
	if a == nil {
		return nil
	}
	return &User{Username: a.Username, UID: formatUID(a.ID)}
}
