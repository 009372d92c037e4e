package domain

import (
	"strings"
	"time"
)

// AuthProvider identifies how an account was first created.
type AuthProvider string

const (
	AuthProviderEmail  AuthProvider = "email"
	AuthProviderGoogle AuthProvider = "google"
	AuthProviderApple  AuthProvider = "apple"
)

// Role is the authorization role of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the relational user record. It is the single source of truth for
// authorization; the identity provider only mirrors it.
type User struct {
	ID               int64        `json:"id" db:"id"`
	Name             string       `json:"name" db:"name"`
	Email            string       `json:"email" db:"email"`
	PasswordHash     *string      `json:"-" db:"password"`
	Role             Role         `json:"role" db:"role"`
	IsEmailVerified  bool         `json:"isEmailVerified" db:"is_email_verified"`
	AuthProvider     AuthProvider `json:"authProvider" db:"auth_provider"`
	ExternalID       *string      `json:"-" db:"firebase_uid"`
	ExternalMetadata Metadata     `json:"-" db:"firebase_metadata"`
	PhotoURL         *string      `json:"photoUrl" db:"photo_url"`
	RefreshToken     *string      `json:"-" db:"refresh_token"`
	IsActive         bool         `json:"isActive" db:"is_active"`
	LastLogin        *time.Time   `json:"lastLogin,omitempty" db:"last_login"`
	CreatedAt        time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time    `json:"updatedAt" db:"updated_at"`
}

// HasPassword reports whether the account can be authenticated by password.
// Linking an external identity does not remove an existing password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// IsLinked reports whether the account has an external identity.
func (u *User) IsLinked() bool {
	return u.ExternalID != nil && *u.ExternalID != ""
}

// NewUser holds the fields needed to insert a user.
type NewUser struct {
	Name             string
	Email            string
	PasswordHash     *string
	Role             Role
	IsEmailVerified  bool
	AuthProvider     AuthProvider
	ExternalID       *string
	ExternalMetadata Metadata
	PhotoURL         *string
}

// Normalized returns a copy with trimmed name, canonical email and defaults.
func (n NewUser) Normalized() NewUser {
	n.Name = strings.TrimSpace(n.Name)
	n.Email = NormalizeEmail(n.Email)
	if n.Role == "" {
		n.Role = RoleUser
	}
	if n.AuthProvider == "" {
		n.AuthProvider = AuthProviderEmail
	}
	return n
}

// NormalizeEmail lowercases and trims an email address. Every write and
// lookup goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
