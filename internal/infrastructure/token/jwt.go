package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

// Signer issues and verifies HS256 bearer tokens. The same signer serves both
// API access tokens and the per-delivery webhook payload tokens; they differ
// only in subject and extra claims.
type Signer struct {
	secret     []byte
	defaultTTL time.Duration
}

func NewSigner(secret string, defaultTTL time.Duration) *Signer {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &Signer{secret: []byte(secret), defaultTTL: defaultTTL}
}

func (s *Signer) Issue(subject string, claims map[string]any, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	now := time.Now().UTC()
	all := jwt.MapClaims{
		"sub": subject,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	for k, v := range claims {
		all[k] = v
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, all).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates signature and expiry, returning subject and token ID so
// the caller can consult the revocation store.
func (s *Signer) Verify(tokenString string) (string, string, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", domain.WrapError(domain.ErrUnauthorized, "verify token", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", domain.WrapError(domain.ErrUnauthorized, "verify token", fmt.Errorf("unexpected claims type"))
	}
	subject, _ := claims["sub"].(string)
	tokenID, _ := claims["jti"].(string)
	if subject == "" || tokenID == "" {
		return "", "", domain.WrapError(domain.ErrUnauthorized, "verify token", fmt.Errorf("missing sub or jti claim"))
	}
	return subject, tokenID, nil
}
