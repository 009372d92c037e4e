package service

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
	"github.com/fabian4819/Kedaireka-Backend/internal/mail"
	"github.com/fabian4819/Kedaireka-Backend/internal/token"
)

// memStore is an in-memory UserStore. WithinTx restores a snapshot when fn
// fails.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]domain.User
	nextID    int64
	createErr error
}

func newMemStore() *memStore {
	return &memStore{users: map[int64]domain.User{}}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	snapshot := maps.Clone(s.users)
	next := s.nextID
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.users, s.nextID = snapshot, next
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) Create(_ context.Context, in domain.NewUser) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return nil, s.createErr
	}
	in = in.Normalized()
	for _, u := range s.users {
		if u.Email == in.Email || (in.ExternalID != nil && u.ExternalID != nil && *u.ExternalID == *in.ExternalID) {
			return nil, fmt.Errorf("create user: %w", domain.ErrConflict)
		}
	}

	s.nextID++
	now := time.Now()
	u := domain.User{
		ID:               s.nextID,
		Name:             in.Name,
		Email:            in.Email,
		PasswordHash:     in.PasswordHash,
		Role:             in.Role,
		IsEmailVerified:  in.IsEmailVerified,
		AuthProvider:     in.AuthProvider,
		ExternalID:       in.ExternalID,
		ExternalMetadata: in.ExternalMetadata,
		PhotoURL:         in.PhotoURL,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.users[u.ID] = u
	u.PasswordHash = nil
	return &u, nil
}

func (s *memStore) FindByEmail(_ context.Context, email string, includeSecret bool) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = domain.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			if !includeSecret {
				u.PasswordHash = nil
			}
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) FindByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.PasswordHash = nil
	return &u, nil
}

func (s *memStore) FindByExternalID(_ context.Context, externalID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ExternalID != nil && *u.ExternalID == externalID {
			u.PasswordHash = nil
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) Update(_ context.Context, id int64, p domain.UserPatch) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.PasswordHash != nil {
		u.PasswordHash = p.PasswordHash
	}
	if p.IsEmailVerified != nil {
		u.IsEmailVerified = *p.IsEmailVerified
	}
	if p.ExternalID != nil {
		u.ExternalID = p.ExternalID
	}
	if p.ExternalMetadata != nil {
		u.ExternalMetadata = p.ExternalMetadata
	}
	if p.PhotoURL != nil {
		u.PhotoURL = p.PhotoURL
	}
	switch {
	case p.ClearRefreshToken:
		u.RefreshToken = nil
	case p.RefreshToken != nil:
		u.RefreshToken = p.RefreshToken
	}
	if p.LastLogin != nil {
		u.LastLogin = p.LastLogin
	}
	u.UpdatedAt = time.Now()
	s.users[id] = u
	u.PasswordHash = nil
	return &u, nil
}

func (s *memStore) RotateRefreshToken(_ context.Context, id int64, current, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || u.RefreshToken == nil || *u.RefreshToken != current {
		return domain.ErrInvalidToken
	}
	u.RefreshToken = &next
	s.users[id] = u
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) get(id int64) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

type fakeGateway struct {
	mu         sync.Mutex
	identities map[string]domain.ExternalProfile
	assertions map[string]domain.ExternalProfile
	passwords  map[string]string
	deleted    []string
	next       int

	createErr error
	getErr    error
	linkErr   error
	updateErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		identities: map[string]domain.ExternalProfile{},
		assertions: map[string]domain.ExternalProfile{},
		passwords:  map[string]string{},
	}
}

func (g *fakeGateway) CreateIdentity(_ context.Context, email, password, displayName string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.createErr != nil {
		return "", g.createErr
	}
	g.next++
	id := fmt.Sprintf("fb-%d", g.next)
	g.identities[id] = domain.ExternalProfile{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Provider:    domain.AuthProviderEmail,
	}
	g.passwords[id] = password
	return id, nil
}

func (g *fakeGateway) GetIdentity(_ context.Context, externalID string) (domain.ExternalProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.getErr != nil {
		return domain.ExternalProfile{}, g.getErr
	}
	p, ok := g.identities[externalID]
	if !ok {
		return domain.ExternalProfile{}, domain.ErrIdentityNotFound
	}
	return p, nil
}

func (g *fakeGateway) VerifyAssertion(_ context.Context, idToken string) (domain.ExternalProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.assertions[idToken]
	if !ok {
		return domain.ExternalProfile{}, domain.ErrInvalidAssertion
	}
	return p, nil
}

func (g *fakeGateway) VerificationLink(_ context.Context, email string) (string, error) {
	if g.linkErr != nil {
		return "", g.linkErr
	}
	return "https://verify.example.com/?email=" + email, nil
}

func (g *fakeGateway) DeleteIdentity(_ context.Context, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.identities, externalID)
	g.deleted = append(g.deleted, externalID)
	return nil
}

func (g *fakeGateway) UpdatePassword(_ context.Context, externalID, password string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.updateErr != nil {
		return g.updateErr
	}
	g.passwords[externalID] = password
	return nil
}

func (g *fakeGateway) setVerified(externalID string, verified bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.identities[externalID]
	p.EmailVerified = verified
	g.identities[externalID] = p
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
	mode mail.Mode
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, to, _, _ string) (mail.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return mail.Result{}, m.err
	}
	m.sent = append(m.sent, to)
	mode := m.mode
	if mode == "" {
		mode = mail.ModeDevelopment
	}
	return mail.Result{Mode: mode}, nil
}

func (m *fakeMailer) TestConfiguration(context.Context) mail.Status {
	return mail.Status{Mode: mail.ModeDevelopment, Message: "Email service not configured"}
}

type harness struct {
	svc     *AuthService
	store   *memStore
	gateway *fakeGateway
	mailer  *fakeMailer
	tokens  *token.Issuer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   newMemStore(),
		gateway: newFakeGateway(),
		mailer:  &fakeMailer{},
		tokens: token.NewIssuer(token.Config{
			AccessSecret:  "test-access",
			RefreshSecret: "test-refresh",
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
		}),
	}
	h.svc = NewAuthService(h.store, h.gateway, h.mailer, h.tokens,
		AuthConfig{BcryptCost: bcrypt.MinCost}, zap.NewNop())
	return h
}

func strPtr(s string) *string { return &s }
