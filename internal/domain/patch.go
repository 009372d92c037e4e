package domain

import "time"

// UserPatch enumerates the updatable columns of a user. A nil field is left
// untouched. Refresh tokens can be cleared with ClearRefreshToken. The auth
// provider is fixed at creation and has no patch field.
type UserPatch struct {
	Name              *string
	PasswordHash      *string
	IsEmailVerified   *bool
	ExternalID        *string
	ExternalMetadata  Metadata
	PhotoURL          *string
	RefreshToken      *string
	ClearRefreshToken bool
	LastLogin         *time.Time
}

// ExternalProfile is the identity provider's view of a person, reduced to
// the fields the reconciliation needs. Provider SDK types never cross this
// boundary.
type ExternalProfile struct {
	ID            string
	Email         string
	DisplayName   string
	PhotoURL      *string
	EmailVerified bool
	Provider      AuthProvider
	Metadata      Metadata
}
