package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

const testSecret = "test-secret-please-change"

func signClaims(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{Secret: testSecret})
	require.NoError(t, err)
	return v
}

func TestVerifier_ValidAdminToken(t *testing.T) {
	v := newTestVerifier(t)
	token := signClaims(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":  "alice",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.Equal(t, RoleAdmin, id.Role)
	assert.True(t, id.IsAdmin())
}

func TestVerifier_RoleDefaultsToUser(t *testing.T) {
	v := newTestVerifier(t)

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"absent", jwt.MapClaims{"sub": "bob", "exp": time.Now().Add(time.Hour).Unix()}},
		{"unknown", jwt.MapClaims{"sub": "bob", "role": "superuser", "exp": time.Now().Add(time.Hour).Unix()}},
		{"explicit user", jwt.MapClaims{"sub": "bob", "role": "user", "exp": time.Now().Add(time.Hour).Unix()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.Verify(signClaims(t, jwt.SigningMethodHS256, testSecret, tt.claims))
			require.NoError(t, err)
			assert.Equal(t, RoleUser, id.Role)
		})
	}
}

func TestVerifier_Rejections(t *testing.T) {
	v := newTestVerifier(t)
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"empty", "", ReasonMissingToken},
		{"garbage", "not-a-token", ReasonMalformed},
		{"three garbage segments", "a.b.c", ReasonMalformed},
		{
			"wrong secret",
			signClaims(t, jwt.SigningMethodHS256, "other-secret", jwt.MapClaims{"sub": "alice", "exp": future}),
			ReasonBadSignature,
		},
		{
			"wrong algorithm",
			signClaims(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": "alice", "exp": future}),
			ReasonBadSignature,
		},
		{
			"expired",
			signClaims(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "alice", "role": "admin", "exp": past}),
			ReasonExpired,
		},
		{
			"missing subject",
			signClaims(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"role": "admin", "exp": future}),
			ReasonMissingSubject,
		},
		{
			"missing exp",
			signClaims(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "alice"}),
			ReasonInvalidClaims,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnauthenticated))
			assert.Equal(t, tt.reason, Reason(err))
		})
	}
}

func TestVerifier_ExpiredAlwaysUnauthenticated(t *testing.T) {
	// A correctly signed token is still rejected once exp has passed.
	now := time.Now()
	clock := now
	v, err := NewVerifier(VerifierConfig{Secret: testSecret, Now: func() time.Time { return clock }})
	require.NoError(t, err)

	token := signClaims(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "alice",
		"exp": now.Add(time.Minute).Unix(),
	})

	_, err = v.Verify(token)
	require.NoError(t, err)

	clock = now.Add(2 * time.Minute)
	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, ReasonExpired, Reason(err))
}

func TestNewVerifier_Config(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	assert.Error(t, err)

	_, err = NewVerifier(VerifierConfig{Secret: "s", Algorithm: "RS256"})
	assert.Error(t, err)

	_, err = NewVerifier(VerifierConfig{Secret: "s", Algorithm: "HS384"})
	assert.NoError(t, err)
}

func TestIssuer_RoundTrip(t *testing.T) {
	iss, err := NewIssuer(testSecret, "HS384", time.Minute)
	require.NoError(t, err)
	v, err := NewVerifier(VerifierConfig{Secret: testSecret, Algorithm: "HS384"})
	require.NoError(t, err)

	token, err := iss.Issue("carol", RoleAdmin)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{Subject: "carol", Role: RoleAdmin}, id)

	_, err = iss.Issue("", RoleUser)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"standard", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"lowercase scheme", "bearer abc", "abc", true},
		{"extra whitespace", "Bearer   abc  ", "abc", true},
		{"empty", "", "", false},
		{"just Bearer", "Bearer", "", false},
		{"empty after Bearer", "Bearer   ", "", false},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenFromMetadata(t *testing.T) {
	md := metadata.Pairs("authorization", "Bearer tok123")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	token, ok := TokenFromMetadata(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok123", token)

	_, ok = TokenFromMetadata(context.Background())
	assert.False(t, ok)

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-other", "1"))
	_, ok = TokenFromMetadata(ctx)
	assert.False(t, ok)
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{Subject: "dave", Role: RoleUser})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "dave", id.Subject)
}

func BenchmarkVerifier(b *testing.B) {
	v, _ := NewVerifier(VerifierConfig{Secret: testSecret})
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		v.Verify(token) //nolint:errcheck
	}
}
