package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
)

func googleProfile() domain.ExternalProfile {
	return domain.ExternalProfile{
		ID:            "g-1",
		Email:         "grace@example.com",
		DisplayName:   "Grace",
		PhotoURL:      strPtr("https://p/grace.png"),
		EmailVerified: true,
		Provider:      domain.AuthProviderGoogle,
		Metadata:      domain.Metadata(`{"uid":"g-1","v":1}`),
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, zap.NewNop())

	first, err := r.Reconcile(context.Background(), googleProfile())
	require.NoError(t, err)
	second, err := r.Reconcile(context.Background(), googleProfile())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.count())

	a, b := *first, *second
	a.UpdatedAt = b.UpdatedAt
	assert.Equal(t, a, b)
}

func TestReconcileNeverClearsPhoto(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, zap.NewNop())

	u, err := r.Reconcile(context.Background(), googleProfile())
	require.NoError(t, err)

	p := googleProfile()
	p.PhotoURL = nil
	p.EmailVerified = false
	p.Metadata = domain.Metadata(`{"uid":"g-1","v":2}`)
	_, err = r.Reconcile(context.Background(), p)
	require.NoError(t, err)

	stored := store.get(u.ID)
	require.NotNil(t, stored.PhotoURL)
	assert.Equal(t, "https://p/grace.png", *stored.PhotoURL)
	assert.False(t, stored.IsEmailVerified)
	assert.JSONEq(t, `{"uid":"g-1","v":2}`, string(stored.ExternalMetadata))
}

func TestReconcileDefaultsNameToEmailLocalPart(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, zap.NewNop())

	p := googleProfile()
	p.DisplayName = "  "
	u, err := r.Reconcile(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "grace", u.Name)
}

func TestReconcileRejectsProfileWithoutEmail(t *testing.T) {
	r := NewReconciler(newMemStore(), zap.NewNop())

	p := googleProfile()
	p.Email = ""
	_, err := r.Reconcile(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrInvalidAssertion)
}

// racingStore lets a concurrent sign-in insert the same person right before
// the first Create.
type racingStore struct {
	*memStore
	raced bool
}

func (s *racingStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *racingStore) Create(ctx context.Context, in domain.NewUser) (*domain.User, error) {
	if !s.raced {
		s.raced = true
		if _, err := s.memStore.Create(ctx, in); err != nil {
			return nil, err
		}
	}
	return s.memStore.Create(ctx, in)
}

func TestReconcileRetriesLostInsertRace(t *testing.T) {
	store := &racingStore{memStore: newMemStore()}
	r := NewReconciler(store, zap.NewNop())

	u, err := r.Reconcile(context.Background(), googleProfile())
	require.NoError(t, err)
	assert.Equal(t, "g-1", *u.ExternalID)
	assert.Equal(t, 1, store.count())
}

func TestReconcileRefusesAccountLinkedElsewhere(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, zap.NewNop())
	owner, err := r.Reconcile(context.Background(), googleProfile())
	require.NoError(t, err)

	other := googleProfile()
	other.ID = "g-2"
	_, err = r.Reconcile(context.Background(), other)
	assert.ErrorIs(t, err, domain.ErrConflict)

	stored := store.get(owner.ID)
	assert.Equal(t, "g-1", *stored.ExternalID)
	assert.Equal(t, 1, store.count())
}

func TestReconcileLinksOnlyVerifiedEmail(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, zap.NewNop())
	hash := "$2a$04$hash"
	local, err := store.Create(context.Background(), domain.NewUser{
		Name: "Grace", Email: "grace@example.com", PasswordHash: &hash,
		AuthProvider: domain.AuthProviderEmail,
	})
	require.NoError(t, err)

	p := googleProfile()
	p.EmailVerified = false
	_, err = r.Reconcile(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Nil(t, store.get(local.ID).ExternalID)

	p.EmailVerified = true
	u, err := r.Reconcile(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, local.ID, u.ID)
	assert.Equal(t, domain.AuthProviderEmail, u.AuthProvider)
	stored := store.get(local.ID)
	assert.True(t, stored.HasPassword())
}
