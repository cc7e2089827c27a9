package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-quiz/internal/config"
)

// TokenTypeAnonymous marks tokens minted for anonymous students.
const TokenTypeAnonymous = "anonymous"

// Claims extends JWT standard claims with the anonymous identity.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	UserID    string `json:"user_id"`
}

type identityCtxKey struct{}

// WithIdentity returns a context carrying an already verified identity.
func WithIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, userID)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(string)
	return id, ok && id != ""
}

// IdentityService mints and verifies anonymous identities.
type IdentityService struct {
	cfg *config.Config
	now func() time.Time
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(cfg *config.Config) *IdentityService {
	return &IdentityService{cfg: cfg, now: time.Now}
}

func (s *IdentityService) available() error {
	if !s.cfg.AnonymousAuthEnabled {
		return fmt.Errorf("%w: anonymous sign-in disabled", ErrIdentityUnavailable)
	}
	if s.cfg.JWTSecret == "" {
		return fmt.Errorf("%w: signing secret not configured", ErrIdentityUnavailable)
	}
	return nil
}

// ResolveAnonymousIdentity returns the identity carried by ctx, or mints a new
// one when the request has none.
func (s *IdentityService) ResolveAnonymousIdentity(ctx context.Context) (string, error) {
	if err := s.available(); err != nil {
		return "", err
	}
	if id, ok := IdentityFromContext(ctx); ok {
		return id, nil
	}
	return uuid.New().String(), nil
}

// IssueAnonymousToken mints a new identity and its signed token.
func (s *IdentityService) IssueAnonymousToken() (token, userID string, err error) {
	if err := s.available(); err != nil {
		return "", "", err
	}

	userID = uuid.New().String()
	token, err = s.SignToken(userID)
	if err != nil {
		return "", "", err
	}
	return token, userID, nil
}

// SignToken signs a token for an existing identity.
func (s *IdentityService) SignToken(userID string) (string, error) {
	now := s.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeAnonymous,
		UserID:    userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("%w: sign token: %v", ErrIdentityUnavailable, err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *IdentityService) ValidateToken(tokenStr string) (*Claims, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.TokenType != TokenTypeAnonymous || claims.UserID == "" {
		return nil, errors.New("not an anonymous identity token")
	}

	return claims, nil
}
