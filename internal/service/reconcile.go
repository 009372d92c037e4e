package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
)

// errInsertRace marks a create that lost to a concurrent insert of the same
// person. Only this conflict is worth retrying.
var errInsertRace = errors.New("concurrent insert")

// Reconciler aligns the local user table with the identity provider's
// profile of the same person. Running it twice with the same profile
// leaves the same persisted state.
type Reconciler struct {
	users UserStore
	log   *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(users UserStore, log *zap.Logger) *Reconciler {
	return &Reconciler{users: users, log: log}
}

// Reconcile returns the local user linked to p, linking or creating one as
// needed. All reads and writes happen in one transaction. A concurrent sign-in
// for the same person can win the insert race; the loser retries once and then
// finds the row.
func (r *Reconciler) Reconcile(ctx context.Context, p domain.ExternalProfile) (*domain.User, error) {
	if p.ID == "" || p.Email == "" {
		return nil, fmt.Errorf("%w: profile without id or email", domain.ErrInvalidAssertion)
	}

	user, err := r.reconcileTx(ctx, p)
	if errors.Is(err, errInsertRace) {
		r.log.Debug("reconcile lost insert race, retrying", zap.String("externalId", p.ID))
		user, err = r.reconcileTx(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile identity %s: %w", p.ID, err)
	}
	return user, nil
}

func (r *Reconciler) reconcileTx(ctx context.Context, p domain.ExternalProfile) (*domain.User, error) {
	var user *domain.User
	err := r.users.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		user, err = r.reconcile(ctx, p)
		return err
	})
	return user, err
}

func (r *Reconciler) reconcile(ctx context.Context, p domain.ExternalProfile) (*domain.User, error) {
	linked, err := r.users.FindByExternalID(ctx, p.ID)
	switch {
	case err == nil:
		return r.users.Update(ctx, linked.ID, profilePatch(p))
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	local, err := r.users.FindByEmail(ctx, p.Email, false)
	switch {
	case err == nil:
		return r.link(ctx, local, p)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	user, err := r.users.Create(ctx, domain.NewUser{
		Name:             displayName(p),
		Email:            p.Email,
		AuthProvider:     p.Provider,
		IsEmailVerified:  p.EmailVerified,
		ExternalID:       &p.ID,
		ExternalMetadata: p.Metadata,
		PhotoURL:         p.PhotoURL,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", errInsertRace, err)
		}
		return nil, err
	}
	r.log.Info("created account from external identity",
		zap.Int64("userId", user.ID), zap.String("externalId", p.ID))
	return user, nil
}

// link attaches p to a local-only account. The provider must vouch for the
// email, and an account already bound to another identity is never taken
// over. The account keeps its original auth provider and password.
func (r *Reconciler) link(ctx context.Context, local *domain.User, p domain.ExternalProfile) (*domain.User, error) {
	if local.IsLinked() {
		r.log.Warn("refusing to relink account to a different external identity",
			zap.Int64("userId", local.ID),
			zap.String("externalId", p.ID),
		)
		return nil, fmt.Errorf("%w: account is linked to another identity", domain.ErrConflict)
	}
	if !p.EmailVerified {
		r.log.Warn("refusing to link account to an unverified email",
			zap.Int64("userId", local.ID),
			zap.String("externalId", p.ID),
		)
		return nil, fmt.Errorf("%w: email not verified by identity provider", domain.ErrConflict)
	}

	patch := profilePatch(p)
	patch.ExternalID = &p.ID
	user, err := r.users.Update(ctx, local.ID, patch)
	if err != nil {
		return nil, err
	}
	r.log.Info("linked local account to external identity",
		zap.Int64("userId", user.ID), zap.String("externalId", p.ID))
	return user, nil
}

// profilePatch mirrors the provider's view onto a linked record. A missing
// photo never clears the stored one.
func profilePatch(p domain.ExternalProfile) domain.UserPatch {
	verified := p.EmailVerified
	patch := domain.UserPatch{
		IsEmailVerified:  &verified,
		ExternalMetadata: p.Metadata,
	}
	if p.PhotoURL != nil && *p.PhotoURL != "" {
		patch.PhotoURL = p.PhotoURL
	}
	return patch
}

func displayName(p domain.ExternalProfile) string {
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(p.Email, "@")
	return local
}
