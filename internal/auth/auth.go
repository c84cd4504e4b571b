package auth

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/metadata"
)

// ErrUnauthenticated is the single caller-facing outcome for every credential
// failure. The concrete cause is carried by *VerifyError for logging only.
var ErrUnauthenticated = errors.New("unauthenticated")

// Failure reasons recorded on VerifyError.
const (
	ReasonMissingToken   = "missing_token"
	ReasonMalformed      = "malformed"
	ReasonBadSignature   = "bad_signature"
	ReasonExpired        = "expired"
	ReasonMissingSubject = "missing_subject"
	ReasonInvalidClaims  = "invalid_claims"
)

// VerifyError describes why a credential was rejected.
// It always matches ErrUnauthenticated via errors.Is.
type VerifyError struct {
	Reason string
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return "auth: " + e.Reason
	}
	return "auth: " + e.Reason + ": " + e.Err.Error()
}

func (e *VerifyError) Unwrap() error { return e.Err }

func (e *VerifyError) Is(target error) bool { return target == ErrUnauthenticated }

// Reason extracts the internal failure reason from err, or "" if err is not a
// *VerifyError.
func Reason(err error) string {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// Role is the caller's privilege level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps a raw claim value to a Role. Anything other than "admin"
// (including an absent claim) is an ordinary user.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

// Identity is the verified caller for a single request.
type Identity struct {
	Subject string
	Role    Role
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type contextKey int

const identityCtxKey contextKey = iota

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(Identity)
	return id, ok
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
// RFC 6750: the "Bearer" scheme is case-insensitive.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return "", false
	}
	return token, true
}

// TokenFromMetadata extracts the bearer token from incoming gRPC metadata.
func TokenFromMetadata(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", false
	}
	return BearerToken(values[0])
}
