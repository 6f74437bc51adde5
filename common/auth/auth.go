package auth

import (
	"context"
	"errors"
)

type User struct {
	Uid      int      `json:"uid"`
	Name     string   `json:"name"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

type Auth interface {
	AuthenticateUser(ctx context.Context, username string, password string) (*User, error)
}

// Registrar is implemented by backends that can create accounts.
type Registrar interface {
	RegisterUser(ctx context.Context, username string, email string, password string) (*User, error)
}

// SessionStore hands out tokens for authenticated users and resolves them back.
type SessionStore interface {
	AddUser(ctx context.Context, user *User) (string, error)
	// GetUser returns nil when the token is unknown or expired.
	GetUser(ctx context.Context, token string) *User
}

var (
	ServerError     = errors.New("could not contact server")
	AuthError       = errors.New("could not authenticate user")
	ErrUserExists   = errors.New("user already exists")
	ErrNotSupported = errors.New("operation not supported by backend")

	ErrPasswordTooLong = errors.New("password too long")
)
