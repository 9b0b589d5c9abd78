// Package users holds the user record and the credential stores that persist it.
package users

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no user matches an id or email.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is returned when creating a user whose email is taken.
	ErrConflict = errors.New("email already registered")
)

// User is a stored account. PasswordHash never leaves the service.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Update lists the profile fields to change. Nil fields are left as they are.
type Update struct {
	FirstName *string
	LastName  *string
}

// Store persists users keyed by id, with a unique index on email.
type Store interface {
	Create(ctx context.Context, user *User) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Update(ctx context.Context, id int64, upd Update) (*User, error)
	List(ctx context.Context) ([]*User, error)
}

// NormalizeEmail trims and lower-cases an address for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *User) clone() *User {
	c := *u
	return &c
}

func (u *User) apply(upd Update, now time.Time) {
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	u.UpdatedAt = now
}
