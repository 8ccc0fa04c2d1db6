package kiosk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRefreshTokenInvalid covers unknown, revoked and expired refresh tokens.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
	ErrKioskExists         = errors.New("kiosk already registered")
)

// Repository stores registered kiosks and their refresh tokens.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Register records a new kiosk. A kiosk id can be registered once; later
// calls return ErrKioskExists and the kiosk must rotate through its refresh token.
func (r *Repository) Register(ctx context.Context, kioskID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO kiosks (kiosk_id, registered_at)
		VALUES ($1, $2)
		ON CONFLICT (kiosk_id) DO NOTHING
	`, kioskID, now.UTC())
	if err != nil {
		return fmt.Errorf("register kiosk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("register kiosk: %w", err)
	}
	if n == 0 {
		return ErrKioskExists
	}
	return nil
}

// SaveRefreshToken persists an issued refresh token.
func (r *Repository) SaveRefreshToken(ctx context.Context, token, kioskID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, kiosk_id, expires_at, revoked)
		VALUES ($1, $2, $3, $4)
	`, token, kioskID, expiresAt.UTC(), false)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshToken returns the kiosk of a live refresh token.
func (r *Repository) LookupRefreshToken(ctx context.Context, token string, now time.Time) (string, error) {
	var kioskID string
	var expiresAt time.Time
	var revoked bool
	err := r.db.QueryRowContext(ctx, `
		SELECT kiosk_id, expires_at, revoked FROM refresh_tokens WHERE token = $1
	`, token).Scan(&kioskID, &expiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRefreshTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}
	if revoked || !now.Before(expiresAt) {
		return "", ErrRefreshTokenInvalid
	}
	return kioskID, nil
}

// RevokeRefreshToken invalidates a refresh token. Revoking twice fails so
// that a token can be rotated only once.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = $1 WHERE token = $2 AND revoked = $3
	`, true, token, false)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n == 0 {
		return ErrRefreshTokenInvalid
	}
	return nil
}
