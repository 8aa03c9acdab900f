// Package link manages short links: creation against plan quotas,
// slug resolution for the redirect path, optional password protection and
// click accounting.
package link

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Link is a short link owned by a user.
type Link struct {
	ID           uuid.UUID  `bson:"_id"`
	UserID       uuid.UUID  `bson:"user_id"`
	Slug         string     `bson:"slug"`
	TargetURL    string     `bson:"target_url"`
	Title        string     `bson:"title,omitempty"`
	PasswordHash []byte     `bson:"password_hash,omitempty"`
	Active       bool       `bson:"active"`
	ExpiresAt    *time.Time `bson:"expires_at,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

// Protected reports whether the link requires a password before redirecting.
func (l *Link) Protected() bool {
	return len(l.PasswordHash) > 0
}

// Expired reports whether the link is past its expiry.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// SetPassword hashes and stores the access password. An empty password
// clears protection.
func (l *Link) SetPassword(password string) error {
	if password == "" {
		l.PasswordHash = nil
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	l.PasswordHash = hash
	return nil
}

// VerifyPassword checks a password attempt against the stored hash.
func (l *Link) VerifyPassword(password string) error {
	if !l.Protected() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(l.PasswordHash, []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}
