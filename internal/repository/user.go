package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
)

const userColumns = `id, name, email, password, role, is_email_verified, auth_provider,
	firebase_uid, firebase_metadata, photo_url, refresh_token, is_active, last_login,
	created_at, updated_at`

const pgUniqueViolation = "23505"

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type txKey struct{}

// UserRepository handles user data access operations.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// WithinTx runs fn inside a single transaction. Repository calls made with
// the context handed to fn join that transaction. Nested calls reuse the
// outer transaction.
func (r *UserRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *UserRepository) q(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}

// Create inserts a new user and returns the stored row.
func (r *UserRepository) Create(ctx context.Context, in domain.NewUser) (*domain.User, error) {
	in = in.Normalized()

	var user domain.User
	err := r.q(ctx).QueryRowxContext(ctx,
		`INSERT INTO users (name, email, password, role, is_email_verified, auth_provider,
		                    firebase_uid, firebase_metadata, photo_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+userColumns,
		in.Name, in.Email, in.PasswordHash, in.Role, in.IsEmailVerified, in.AuthProvider,
		in.ExternalID, in.ExternalMetadata, in.PhotoURL,
	).StructScan(&user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create user %s: %w", in.Email, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	user.PasswordHash = nil
	return &user, nil
}

// FindByEmail retrieves a user by normalized email. The password hash is
// only populated when includeSecret is set.
func (r *UserRepository) FindByEmail(ctx context.Context, email string, includeSecret bool) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if !includeSecret {
		user.PasswordHash = nil
	}
	return user, nil
}

// FindByID retrieves a user by their ID.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("find user by id %d: %w", id, err)
	}
	user.PasswordHash = nil
	return user, nil
}

// FindByExternalID retrieves a user by their identity provider id.
func (r *UserRepository) FindByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE firebase_uid = $1`, externalID)
	if err != nil {
		return nil, fmt.Errorf("find user by external id %s: %w", externalID, err)
	}
	user.PasswordHash = nil
	return user, nil
}

// Update applies a patch and stamps updated_at.
func (r *UserRepository) Update(ctx context.Context, id int64, patch domain.UserPatch) (*domain.User, error) {
	query, args := buildUpdate(id, patch)

	var user domain.User
	err := r.q(ctx).QueryRowxContext(ctx, query, args...).StructScan(&user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("update user %d: %w", id, domain.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("update user %d: %w", id, domain.ErrConflict)
		}
		return nil, fmt.Errorf("update user %d: %w", id, err)
	}
	user.PasswordHash = nil
	return &user, nil
}

// RotateRefreshToken replaces the stored refresh token only if it still
// equals current. A superseded or cleared token yields ErrInvalidToken.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, id int64, current, next string) error {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE users SET refresh_token = $1, updated_at = NOW()
		 WHERE id = $2 AND refresh_token = $3`,
		next, id, current,
	)
	if err != nil {
		return fmt.Errorf("rotate refresh token for user %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate refresh token for user %d: %w", id, err)
	}
	if n == 0 {
		return domain.ErrInvalidToken
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	if err := r.q(ctx).GetContext(ctx, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// buildUpdate compiles a patch through a fixed column mapping, so only
// known columns ever reach the statement.
func buildUpdate(id int64, p domain.UserPatch) (string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Name != nil {
		set("name", strings.TrimSpace(*p.Name))
	}
	if p.PasswordHash != nil {
		set("password", *p.PasswordHash)
	}
	if p.IsEmailVerified != nil {
		set("is_email_verified", *p.IsEmailVerified)
	}
	if p.ExternalID != nil {
		set("firebase_uid", *p.ExternalID)
	}
	if p.ExternalMetadata != nil {
		set("firebase_metadata", p.ExternalMetadata)
	}
	if p.PhotoURL != nil {
		set("photo_url", *p.PhotoURL)
	}
	switch {
	case p.ClearRefreshToken:
		sets = append(sets, "refresh_token = NULL")
	case p.RefreshToken != nil:
		set("refresh_token", *p.RefreshToken)
	}
	if p.LastLogin != nil {
		set("last_login", *p.LastLogin)
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), userColumns)
	return query, args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
