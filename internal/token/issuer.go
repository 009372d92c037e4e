package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Pair holds an access token and refresh token.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Config holds the signing secrets and lifetimes. Each token class has its
// own secret so one can never be accepted as the other.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims are the signed claims carried by both token classes.
type Claims struct {
	UserID int64  `json:"userId"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies tokens.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewIssuer creates an Issuer. Zero TTLs fall back to 7 and 30 days.
func NewIssuer(cfg Config) *Issuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 7 * 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Issuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
}

// Issue mints a fresh pair for userID. Every pair carries a unique jti, so
// two pairs are never byte-equal even when issued in the same second.
func (i *Issuer) Issue(userID int64) (Pair, error) {
	now := i.now()

	access, err := i.sign(userID, typeAccess, now, i.accessTTL, i.accessSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := i.sign(userID, typeRefresh, now, i.refreshTTL, i.refreshSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess validates an access token and returns its user id.
func (i *Issuer) VerifyAccess(token string) (int64, error) {
	return i.verify(token, typeAccess, i.accessSecret)
}

// VerifyRefresh validates a refresh token's signature and expiry. It does
// not check rotation; that needs the stored token.
func (i *Issuer) VerifyRefresh(token string) (int64, error) {
	return i.verify(token, typeRefresh, i.refreshSecret)
}

func (i *Issuer) sign(userID int64, typ string, now time.Time, ttl time.Duration, secret []byte) (string, error) {
	claims := Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (i *Issuer) verify(tokenString, typ string, secret []byte) (int64, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("parse %s token: %w", typ, errors.Join(domain.ErrInvalidToken, err))
	}
	if !token.Valid || claims.Type != typ || claims.UserID <= 0 {
		return 0, domain.ErrInvalidToken
	}
	return claims.UserID, nil
}
