package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token uses.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// RoleKiosk is the only role issued today.
const RoleKiosk = "kiosk"

var ErrWrongTokenUse = errors.New("token used for the wrong purpose")

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"access_expires_at"`
	RefreshExp   time.Time `json:"refresh_expires_at"`
}

// Claims represents JWT payload. Subject is the kiosk context id.
type Claims struct {
	Role string `json:"role"`
	Use  string `json:"use"`
	jwt.RegisteredClaims
}

// Issuer signs kiosk tokens with HS256.
type Issuer struct {
	Name       string
	Key        string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Issue issues signed access and refresh tokens for kioskID.
func (i Issuer) Issue(kioskID string) (TokenPair, error) {
	now := i.now()
	accessExp := now.Add(i.AccessTTL)
	refreshExp := now.Add(i.RefreshTTL)

	accessToken, err := i.sign(kioskID, UseAccess, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := i.sign(kioskID, UseRefresh, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (i Issuer) sign(subject, use string, issuedAt, exp time.Time) (string, error) {
	claims := Claims{
		Role: RoleKiosk,
		Use:  use,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.Name,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.Key))
}

// Parse validates a token of the given use and returns claims.
func (i Issuer) Parse(tokenStr, use string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(i.Key), nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if i.Name != "" && claims.Issuer != i.Name {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("token has no subject")
	}
	if claims.Use != use {
		return Claims{}, ErrWrongTokenUse
	}
	return *claims, nil
}
