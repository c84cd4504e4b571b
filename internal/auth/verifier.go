package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAlgorithm is the signing algorithm used when none is configured.
const DefaultAlgorithm = "HS256"

// Claims is the token payload: {sub, role, exp}.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates signed bearer tokens with a process-wide shared secret.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Secret    string
	Algorithm string           // HS256, HS384 or HS512. Default: HS256
	Leeway    time.Duration    // clock skew tolerated on exp
	Now       func() time.Time // for tests
}

// NewVerifier builds a Verifier. Only the configured HMAC algorithm is
// accepted; tokens signed with any other method (including "none") fail.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("NewVerifier: secret is required")
	}
	method, err := hmacMethod(cfg.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("NewVerifier: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}

	return &Verifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify checks signature and expiry and returns the caller's identity.
// Every failure is a *VerifyError matching ErrUnauthenticated.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, &VerifyError{Reason: ReasonMissingToken}
	}

	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, &VerifyError{Reason: classify(err), Err: err}
	}

	if claims.Subject == "" {
		return Identity{}, &VerifyError{Reason: ReasonMissingSubject}
	}

	return Identity{
		Subject: claims.Subject,
		Role:    ParseRole(claims.Role),
	}, nil
}

// classify maps jwt parse errors to a stable reason code.
func classify(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	default:
		return ReasonInvalidClaims
	}
}

func hmacMethod(alg string) (*jwt.SigningMethodHMAC, error) {
	switch alg {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
}
