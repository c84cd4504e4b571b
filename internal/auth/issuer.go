package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints tokens that a Verifier with the same secret accepts.
// Used by the identity endpoints and the `token` CLI command.
type Issuer struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. ttl defaults to 30 minutes.
func NewIssuer(secret, algorithm string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("NewIssuer: secret is required")
	}
	method, err := hmacMethod(algorithm)
	if err != nil {
		return nil, fmt.Errorf("NewIssuer: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Issuer{secret: []byte(secret), method: method, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for subject with the given role.
func (i *Issuer) Issue(subject string, role Role) (string, error) {
	if subject == "" {
		return "", errors.New("Issue: subject is required")
	}
	now := i.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("Issue: %w", err)
	}
	return signed, nil
}
