package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
	"github.com/fabian4819/Kedaireka-Backend/internal/mail"
	"github.com/fabian4819/Kedaireka-Backend/internal/token"
)

// UserStore defines the user data access interface consumed by AuthService.
type UserStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, in domain.NewUser) (*domain.User, error)
	FindByEmail(ctx context.Context, email string, includeSecret bool) (*domain.User, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	Update(ctx context.Context, id int64, patch domain.UserPatch) (*domain.User, error)
	RotateRefreshToken(ctx context.Context, id int64, current, next string) error
}

// IdentityGateway is the external identity provider.
type IdentityGateway interface {
	CreateIdentity(ctx context.Context, email, password, displayName string) (string, error)
	GetIdentity(ctx context.Context, externalID string) (domain.ExternalProfile, error)
	VerifyAssertion(ctx context.Context, idToken string) (domain.ExternalProfile, error)
	VerificationLink(ctx context.Context, email string) (string, error)
	DeleteIdentity(ctx context.Context, externalID string) error
	UpdatePassword(ctx context.Context, externalID, password string) error
}

// Mailer delivers account emails.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, name, link string) (mail.Result, error)
	TestConfiguration(ctx context.Context) mail.Status
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	BcryptCost int
}

// AuthService handles authentication logic.
type AuthService struct {
	users      UserStore
	identity   IdentityGateway
	mailer     Mailer
	tokens     *token.Issuer
	reconciler *Reconciler
	bcryptCost int
	log        *zap.Logger
	now        func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, identity IdentityGateway, mailer Mailer, tokens *token.Issuer, cfg AuthConfig, log *zap.Logger) *AuthService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	return &AuthService{
		users:      users,
		identity:   identity,
		mailer:     mailer,
		tokens:     tokens,
		reconciler: NewReconciler(users, log),
		bcryptCost: cfg.BcryptCost,
		log:        log,
		now:        time.Now,
	}
}

// AuthResult is returned by every flow that signs a user in.
type AuthResult struct {
	User   *domain.User `json:"user"`
	Tokens token.Pair   `json:"tokens"`
}

// Profile is the caller's own view of their account.
type Profile struct {
	*domain.User
	ExternalMetadata domain.Metadata `json:"externalMetadata"`
}

// VerificationDelivery reports how a verification link was delivered.
type VerificationDelivery struct {
	Mode mail.Mode `json:"mode"`
	Note string    `json:"note"`
}

// RegisterInput holds the fields of a new email account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates an email account. The external identity is created
// first; if the local insert then fails it is deleted again.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := domain.NormalizeEmail(in.Email)

	_, err := s.users.FindByEmail(ctx, email, false)
	switch {
	case err == nil:
		return nil, fmt.Errorf("register %s: %w", email, domain.ErrConflict)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("register: %w", err)
	}

	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	externalID, err := s.identity.CreateIdentity(ctx, email, in.Password, in.Name)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	var result *AuthResult
	err = s.users.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.users.Create(ctx, domain.NewUser{
			Name:             in.Name,
			Email:            email,
			PasswordHash:     &hash,
			AuthProvider:     domain.AuthProviderEmail,
			ExternalID:       &externalID,
			ExternalMetadata: registrationMetadata(externalID, email, in.Name),
		})
		if err != nil {
			return err
		}
		result, err = s.signIn(ctx, user.ID)
		return err
	})
	if err != nil {
		s.compensate(ctx, externalID, email)
		return nil, fmt.Errorf("register: %w", err)
	}

	s.sendVerificationBestEffort(ctx, result.User)
	return result, nil
}

func (s *AuthService) compensate(ctx context.Context, externalID, email string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.identity.DeleteIdentity(ctx, externalID); err != nil {
		s.log.Error("orphaned external identity after failed registration",
			zap.String("externalId", externalID),
			zap.String("email", email),
			zap.Error(err),
		)
		return
	}
	s.log.Warn("rolled back external identity after failed registration",
		zap.String("externalId", externalID))
}

func (s *AuthService) sendVerificationBestEffort(ctx context.Context, user *domain.User) {
	if _, err := s.deliverVerification(ctx, user); err != nil {
		s.log.Warn("failed to send verification email",
			zap.Int64("userId", user.ID),
			zap.String("email", user.Email),
			zap.Error(err),
		)
	}
}

// Login authenticates an email account. Every credential failure returns
// the same ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, email, true)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if !user.HasPassword() || !VerifyPassword(password, *user.PasswordHash) {
		return nil, domain.ErrUnauthorized
	}

	if user.IsLinked() {
		if _, err := s.identity.GetIdentity(ctx, *user.ExternalID); err != nil {
			if errors.Is(err, domain.ErrIdentityNotFound) {
				s.log.Warn("linked identity missing upstream", zap.Int64("userId", user.ID))
				return nil, domain.ErrUnauthorized
			}
			return nil, fmt.Errorf("login: %w", err)
		}
	}

	return s.signIn(ctx, user.ID)
}

// ExternalSignIn signs in with an identity provider ID token.
func (s *AuthService) ExternalSignIn(ctx context.Context, idToken string) (*AuthResult, error) {
	profile, err := s.identity.VerifyAssertion(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("external sign-in: %w", err)
	}

	user, err := s.reconciler.Reconcile(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("external sign-in: %w", err)
	}
	return s.signIn(ctx, user.ID)
}

// RefreshTokens rotates a refresh token. Only the most recently issued
// token is accepted.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (token.Pair, error) {
	userID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return token.Pair{}, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return token.Pair{}, domain.ErrInvalidToken
		}
		return token.Pair{}, fmt.Errorf("refresh tokens: %w", err)
	}
	if user.RefreshToken == nil ||
		subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(refreshToken)) != 1 {
		return token.Pair{}, domain.ErrInvalidToken
	}

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		return token.Pair{}, err
	}
	if err := s.users.RotateRefreshToken(ctx, user.ID, refreshToken, pair.RefreshToken); err != nil {
		return token.Pair{}, fmt.Errorf("refresh tokens: %w", err)
	}
	return pair, nil
}

// Logout clears the stored refresh token. Calling it twice, or for an
// account that no longer exists, is harmless.
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	_, err := s.users.Update(ctx, userID, domain.UserPatch{ClearRefreshToken: true})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Me returns the caller's account with the cached provider metadata.
func (s *AuthService) Me(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	meta := user.ExternalMetadata
	if len(meta) == 0 {
		meta = domain.Metadata("{}")
	}
	return &Profile{User: user, ExternalMetadata: meta}, nil
}

// SendVerification mails a fresh verification link to the caller.
func (s *AuthService) SendVerification(ctx context.Context, userID int64) (*VerificationDelivery, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	res, err := s.deliverVerification(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("send verification: %w", err)
	}

	note := "Please check your email inbox"
	if res.Mode == mail.ModeDevelopment {
		note = "Please check server logs for verification link"
	}
	return &VerificationDelivery{Mode: res.Mode, Note: note}, nil
}

func (s *AuthService) deliverVerification(ctx context.Context, user *domain.User) (mail.Result, error) {
	link, err := s.identity.VerificationLink(ctx, user.Email)
	if err != nil {
		return mail.Result{}, err
	}
	return s.mailer.SendVerificationEmail(ctx, user.Email, user.Name, link)
}

// CheckVerification returns the provider's verification flag and copies it
// onto the local record when the two have drifted.
func (s *AuthService) CheckVerification(ctx context.Context, userID int64) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if !user.IsLinked() {
		return user.IsEmailVerified, nil
	}

	profile, err := s.identity.GetIdentity(ctx, *user.ExternalID)
	if err != nil {
		return false, fmt.Errorf("check verification: %w", err)
	}
	if profile.EmailVerified != user.IsEmailVerified {
		verified := profile.EmailVerified
		if _, err := s.users.Update(ctx, user.ID, domain.UserPatch{IsEmailVerified: &verified}); err != nil {
			return false, fmt.Errorf("check verification: %w", err)
		}
		s.log.Info("synced email verification flag",
			zap.Int64("userId", user.ID), zap.Bool("verified", verified))
	}
	return profile.EmailVerified, nil
}

// ChangePassword replaces the password of an email account and signs out
// every other session by clearing the refresh token.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	withSecret, err := s.users.FindByEmail(ctx, user.Email, true)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if !withSecret.HasPassword() {
		return fmt.Errorf("%w: account has no password", domain.ErrInvalidInput)
	}
	if !VerifyPassword(current, *withSecret.PasswordHash) {
		return domain.ErrUnauthorized
	}

	hash, err := HashPassword(next, s.bcryptCost)
	if err != nil {
		return err
	}

	err = s.users.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.Update(ctx, user.ID, domain.UserPatch{
			PasswordHash:      &hash,
			ClearRefreshToken: true,
		}); err != nil {
			return err
		}
		if user.IsLinked() {
			return s.identity.UpdatePassword(ctx, *user.ExternalID, next)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	s.log.Info("password changed", zap.Int64("userId", user.ID))
	return nil
}

// EmailConfiguration reports whether outbound mail is configured and the
// SMTP server is reachable.
func (s *AuthService) EmailConfiguration(ctx context.Context) mail.Status {
	return s.mailer.TestConfiguration(ctx)
}

// signIn issues a fresh pair and stores its refresh token, superseding any
// earlier one.
func (s *AuthService) signIn(ctx context.Context, userID int64) (*AuthResult, error) {
	pair, err := s.tokens.Issue(userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user, err := s.users.Update(ctx, userID, domain.UserPatch{
		RefreshToken: &pair.RefreshToken,
		LastLogin:    &now,
	})
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &AuthResult{User: user, Tokens: pair}, nil
}

func registrationMetadata(externalID, email, name string) domain.Metadata {
	raw, _ := json.Marshal(map[string]any{
		"uid":           externalID,
		"email":         email,
		"displayName":   name,
		"emailVerified": false,
		"authProvider":  domain.AuthProviderEmail,
		"role":          domain.RoleUser,
	})
	return raw
}
