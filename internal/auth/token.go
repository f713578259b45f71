package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"

	DefaultAccessTTL  = 7 * 24 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// ErrInvalidToken is returned for any token that fails verification.
// The underlying jwt error stays in the chain (e.g. jwt.ErrTokenExpired).
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims issued for both token kinds. Use keeps an
// access token from being replayed as a refresh token and vice versa,
// on top of the two tokens being signed with different secrets.
type Claims struct {
	Use string `json:"use"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenManager.
type TokenConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// TokenManager issues and verifies access and refresh JWTs.
type TokenManager struct {
	accessSecret  []byte
	accessTTL     time.Duration
	refreshSecret []byte
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenManager constructs a TokenManager. Zero lifetimes take the defaults.
func NewTokenManager(cfg TokenConfig) *TokenManager {
	m := &TokenManager{
		accessSecret:  []byte(cfg.AccessSecret),
		accessTTL:     cfg.AccessTTL,
		refreshSecret: []byte(cfg.RefreshSecret),
		refreshTTL:    cfg.RefreshTTL,
		now:           cfg.Now,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = DefaultAccessTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = DefaultRefreshTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// RefreshTTL returns the lifetime of refresh tokens.
func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// IssueAccessToken signs a short-lived token identifying userID.
func (m *TokenManager) IssueAccessToken(userID string) (string, error) {
	return m.issue(userID, useAccess, m.accessSecret, m.accessTTL)
}

// IssueRefreshToken signs a long-lived token identifying userID.
func (m *TokenManager) IssueRefreshToken(userID string) (string, error) {
	return m.issue(userID, useRefresh, m.refreshSecret, m.refreshTTL)
}

// ParseAccessToken verifies an access token and returns its subject.
func (m *TokenManager) ParseAccessToken(tokenString string) (string, error) {
	return m.parse(tokenString, useAccess, m.accessSecret)
}

// ParseRefreshToken verifies a refresh token and returns its subject.
func (m *TokenManager) ParseRefreshToken(tokenString string) (string, error) {
	return m.parse(tokenString, useRefresh, m.refreshSecret)
}

func (m *TokenManager) issue(userID, use string, secret []byte, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("missing subject")
	}
	now := m.now()
	claims := Claims{
		Use: use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (m *TokenManager) parse(tokenString, use string, secret []byte) (string, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Use != use {
		return "", fmt.Errorf("%w: wrong token use %q", ErrInvalidToken, claims.Use)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
