package domain

import "time"

// User represents a registered account of the portal.
type User struct {
	ID           int64
	Username     string
	Email        *string
	Age          *int
	PasswordHash string
	AvatarKey    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EmailValue returns the email or an empty string when none is set.
func (u *User) EmailValue() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}
