package auth

import (
	"context"
	"strings"
)

// User represents the operator allowed into the admin pages.
type User struct {
	Email        string
	PasswordHash string
}

// Repository looks up users by email.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// StaticRepository serves the single admin account from configuration.
type StaticRepository struct {
	admin User
}

// NewStaticRepository builds a repository holding one admin account.
func NewStaticRepository(email, passwordHash string) *StaticRepository {
	return &StaticRepository{admin: User{Email: strings.TrimSpace(email), PasswordHash: passwordHash}}
}

// FindByEmail matches email case-insensitively.
func (r *StaticRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	if r == nil || r.admin.Email == "" || !strings.EqualFold(strings.TrimSpace(email), r.admin.Email) {
		return nil, ErrUserNotFound
	}
	u := r.admin
	return &u, nil
}
