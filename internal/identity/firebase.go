// Package identity wraps the external identity provider (Firebase
// Authentication). Nothing outside this package sees Firebase SDK types.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
)

var scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/firebase",
	"https://www.googleapis.com/auth/identitytoolkit",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Gateway is the capability the auth flows consume.
type Gateway interface {
	CreateIdentity(ctx context.Context, email, password, displayName string) (string, error)
	GetIdentity(ctx context.Context, externalID string) (domain.ExternalProfile, error)
	VerifyAssertion(ctx context.Context, idToken string) (domain.ExternalProfile, error)
	VerificationLink(ctx context.Context, email string) (string, error)
	DeleteIdentity(ctx context.Context, externalID string) error
	UpdatePassword(ctx context.Context, externalID, password string) error
}

// authClient is the subset of *auth.Client used here.
type authClient interface {
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	EmailVerificationLink(ctx context.Context, email string) (string, error)
	DeleteUser(ctx context.Context, uid string) error
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
}

// Config selects the Firebase project and service account.
type Config struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

// Firebase implements Gateway over the Firebase Admin SDK.
type Firebase struct {
	client authClient
}

// NewFirebase initialises the Admin SDK. Credentials come from the file, the
// inline JSON, or application default credentials, in that order.
func NewFirebase(ctx context.Context, cfg Config) (*Firebase, error) {
	creds, err := loadCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = creds.ProjectID
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return &Firebase{client: client}, nil
}

func loadCredentials(ctx context.Context, cfg Config) (*google.Credentials, error) {
	data := []byte(cfg.CredentialsJSON)
	if cfg.CredentialsFile != "" {
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read firebase credentials: %w", err)
		}
		data = b
	}

	if len(data) == 0 {
		creds, err := google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
		return creds, nil
	}

	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse firebase credentials: %w", err)
	}
	return creds, nil
}

// CreateIdentity creates an unverified email/password identity.
func (f *Firebase) CreateIdentity(ctx context.Context, email, password, displayName string) (string, error) {
	params := (&auth.UserToCreate{}).
		Email(email).
		Password(password).
		DisplayName(displayName).
		EmailVerified(false)

	rec, err := f.client.CreateUser(ctx, params)
	if err != nil {
		if auth.IsEmailAlreadyExists(err) {
			return "", fmt.Errorf("create identity %s: %w", email, domain.ErrConflict)
		}
		return "", upstream("create identity", err)
	}
	return rec.UID, nil
}

// GetIdentity fetches the provider's current profile.
func (f *Firebase) GetIdentity(ctx context.Context, externalID string) (domain.ExternalProfile, error) {
	rec, err := f.client.GetUser(ctx, externalID)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return domain.ExternalProfile{}, fmt.Errorf("get identity %s: %w", externalID, domain.ErrIdentityNotFound)
		}
		return domain.ExternalProfile{}, upstream("get identity", err)
	}
	return toProfile(rec, "")
}

// VerifyAssertion validates a client ID token and returns the verified
// profile of its subject.
func (f *Firebase) VerifyAssertion(ctx context.Context, idToken string) (domain.ExternalProfile, error) {
	tok, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("verify id token: %w: %v", domain.ErrInvalidAssertion, err)
	}

	rec, err := f.client.GetUser(ctx, tok.UID)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return domain.ExternalProfile{}, fmt.Errorf("verify id token: %w", domain.ErrInvalidAssertion)
		}
		return domain.ExternalProfile{}, upstream("get identity", err)
	}
	return toProfile(rec, tok.Firebase.SignInProvider)
}

// VerificationLink generates an email verification link.
func (f *Firebase) VerificationLink(ctx context.Context, email string) (string, error) {
	link, err := f.client.EmailVerificationLink(ctx, email)
	if err != nil {
		return "", upstream("generate verification link", err)
	}
	return link, nil
}

// DeleteIdentity removes an identity. A missing identity is not an error.
func (f *Firebase) DeleteIdentity(ctx context.Context, externalID string) error {
	if err := f.client.DeleteUser(ctx, externalID); err != nil && !auth.IsUserNotFound(err) {
		return upstream("delete identity", err)
	}
	return nil
}

// UpdatePassword sets a new password on the identity.
func (f *Firebase) UpdatePassword(ctx context.Context, externalID, password string) error {
	if _, err := f.client.UpdateUser(ctx, externalID, (&auth.UserToUpdate{}).Password(password)); err != nil {
		if auth.IsUserNotFound(err) {
			return fmt.Errorf("update password %s: %w", externalID, domain.ErrIdentityNotFound)
		}
		return upstream("update password", err)
	}
	return nil
}

func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrUpstreamIdentity, err)
}

type profileMetadata struct {
	UID            string   `json:"uid"`
	Email          string   `json:"email"`
	DisplayName    string   `json:"displayName,omitempty"`
	PhotoURL       string   `json:"photoURL,omitempty"`
	EmailVerified  bool     `json:"emailVerified"`
	AuthProvider   string   `json:"authProvider"`
	Providers      []string `json:"providers,omitempty"`
	CreationTime   int64    `json:"creationTime,omitempty"`
	LastSignInTime int64    `json:"lastSignInTime,omitempty"`
}

func toProfile(rec *auth.UserRecord, signInProvider string) (domain.ExternalProfile, error) {
	if rec == nil || rec.UserInfo == nil {
		return domain.ExternalProfile{}, fmt.Errorf("%w: empty user record", domain.ErrUpstreamIdentity)
	}

	var providerIDs []string
	for _, p := range rec.ProviderUserInfo {
		if p != nil {
			providerIDs = append(providerIDs, p.ProviderID)
		}
	}
	if signInProvider == "" && len(providerIDs) > 0 {
		signInProvider = providerIDs[0]
	}
	provider := providerFor(signInProvider)

	meta := profileMetadata{
		UID:           rec.UID,
		Email:         rec.Email,
		DisplayName:   rec.DisplayName,
		PhotoURL:      rec.PhotoURL,
		EmailVerified: rec.EmailVerified,
		AuthProvider:  string(provider),
		Providers:     providerIDs,
	}
	if rec.UserMetadata != nil {
		meta.CreationTime = rec.UserMetadata.CreationTimestamp
		meta.LastSignInTime = rec.UserMetadata.LastLogInTimestamp
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("encode profile metadata: %w", err)
	}

	profile := domain.ExternalProfile{
		ID:            rec.UID,
		Email:         domain.NormalizeEmail(rec.Email),
		DisplayName:   rec.DisplayName,
		EmailVerified: rec.EmailVerified,
		Provider:      provider,
		Metadata:      raw,
	}
	if rec.PhotoURL != "" {
		photo := rec.PhotoURL
		profile.PhotoURL = &photo
	}
	return profile, nil
}

func providerFor(signInProvider string) domain.AuthProvider {
	switch signInProvider {
	case "apple.com":
		return domain.AuthProviderApple
	case "password":
		return domain.AuthProviderEmail
	default:
		return domain.AuthProviderGoogle
	}
}
