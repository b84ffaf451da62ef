package repository

import (
	"context"
	"errors"

	"account-portal/internal/domain"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("user already exists")
	// ErrDuplicateUsername wraps ErrDuplicate for the username column.
	ErrDuplicateUsername = &DuplicateError{Field: "username"}
	// ErrDuplicateEmail wraps ErrDuplicate for the email column.
	ErrDuplicateEmail = &DuplicateError{Field: "email"}
)

// DuplicateError names the unique column a write collided on.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return e.Field + " already exists"
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (int64, error)
	Update(ctx context.Context, user *domain.User) error
	SetAvatar(ctx context.Context, id int64, key string) error
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}
