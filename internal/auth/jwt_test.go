// AngelaMos | 2026
// jwt_test.go

package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/accounts-api/internal/config"
	"github.com/carterperez-dev/accounts-api/internal/core"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testIssuer = "accounts-api-test"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeRevocations struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRevocations) IsRevoked(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[id], nil
}

func newTestTokenManager(t *testing.T, opts ...TokenOption) (*TokenManager, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: testEpoch}
	opts = append([]TokenOption{WithClock(clock.Now)}, opts...)

	m, err := NewTokenManager(config.JWTConfig{
		Secret:            testSecret,
		AccessTokenExpire: time.Hour,
		Issuer:            testIssuer,
	}, opts...)
	require.NoError(t, err)

	return m, clock
}

func foreignToken(t *testing.T, method gojwt.SigningMethod, key any, claims gojwt.MapClaims) string {
	t.Helper()

	signed, err := gojwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func validForeignClaims() gojwt.MapClaims {
	return gojwt.MapClaims{
		"sub":      "7",
		"iss":      testIssuer,
		"iat":      testEpoch.Unix(),
		"nbf":      testEpoch.Unix(),
		"exp":      testEpoch.Add(time.Hour).Unix(),
		"jti":      "foreign-1",
		"username": "carol",
		"role":     2,
		"type":     "access",
	}
}

func TestNewTokenManagerValidation(t *testing.T) {
	_, err := NewTokenManager(config.JWTConfig{AccessTokenExpire: time.Hour})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = NewTokenManager(config.JWTConfig{Secret: testSecret})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestTokenRoundTrip(t *testing.T) {
	m, _ := newTestTokenManager(t)

	token, expiresAt, err := m.CreateAccessToken(AccessTokenClaims{
		UserID:   42,
		Username: "alice",
		Role:     core.RoleModerator,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))
	assert.Equal(t, testEpoch.Add(time.Hour), expiresAt)

	claims, err := m.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, core.RoleModerator, claims.Role)
	assert.NotEmpty(t, claims.TokenID)
	assert.True(t, claims.ExpiresAt.Equal(expiresAt))
}

func TestTokenIDsAreUnique(t *testing.T) {
	m, _ := newTestTokenManager(t)
	claims := AccessTokenClaims{UserID: 1, Username: "a", Role: core.RoleStandard}

	first, _, err := m.CreateAccessToken(claims)
	require.NoError(t, err)
	second, _, err := m.CreateAccessToken(claims)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestTokenExpiryWindow(t *testing.T) {
	m, clock := newTestTokenManager(t)

	token, _, err := m.CreateAccessToken(AccessTokenClaims{
		UserID: 1, Username: "alice", Role: core.RoleStandard,
	})
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, err = m.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err, "token must still verify just before its ttl")

	clock.Advance(2 * time.Second)
	_, err = m.VerifyAccessToken(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestTokenExpiryMatchesSignedClaimAtSubSecondIssue(t *testing.T) {
	m, clock := newTestTokenManager(t)
	clock.Advance(900 * time.Millisecond)

	token, expiresAt, err := m.CreateAccessToken(AccessTokenClaims{
		UserID: 1, Username: "alice", Role: core.RoleStandard,
	})
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(time.Hour), expiresAt)

	clock.Advance(time.Hour - 901*time.Millisecond)
	claims, err := m.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err, "token must verify until the expiry it was issued with")
	assert.True(t, claims.ExpiresAt.Equal(expiresAt))

	clock.now = expiresAt
	_, err = m.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err)

	clock.Advance(500 * time.Millisecond)
	_, err = m.VerifyAccessToken(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	m, _ := newTestTokenManager(t)

	for _, raw := range []string{"", "not-a-token", "a.b.c", "....."} {
		_, err := m.VerifyAccessToken(context.Background(), raw)
		assert.ErrorIs(t, err, core.ErrTokenMalformed, "input %q", raw)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m, _ := newTestTokenManager(t)

	token := foreignToken(t, gojwt.SigningMethodHS256,
		[]byte("another-secret-another-secret-xx"), validForeignClaims())

	_, err := m.VerifyAccessToken(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrTokenSignature)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	m, _ := newTestTokenManager(t)

	token, _, err := m.CreateAccessToken(AccessTokenClaims{
		UserID: 5, Username: "bob", Role: core.RoleStandard,
	})
	require.NoError(t, err)

	forged := foreignToken(t, gojwt.SigningMethodHS256, []byte("x"), gojwt.MapClaims{
		"sub": "5", "username": "bob", "role": 1,
	})

	parts := strings.Split(token, ".")
	forgedParts := strings.Split(forged, ".")
	tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, err = m.VerifyAccessToken(context.Background(), tampered)
	assert.ErrorIs(t, err, core.ErrTokenSignature)
}

func TestVerifyRejectsAlgorithmSubstitution(t *testing.T) {
	m, _ := newTestTokenManager(t)

	hs512 := foreignToken(t, gojwt.SigningMethodHS512, []byte(testSecret), validForeignClaims())
	_, err := m.VerifyAccessToken(context.Background(), hs512)
	assert.Error(t, err)

	none := foreignToken(t, gojwt.SigningMethodNone,
		gojwt.UnsafeAllowNoneSignatureType, validForeignClaims())
	_, err = m.VerifyAccessToken(context.Background(), none)
	assert.Error(t, err)
}

func TestVerifyAcceptsStandardHS256Token(t *testing.T) {
	m, _ := newTestTokenManager(t)

	token := foreignToken(t, gojwt.SigningMethodHS256, []byte(testSecret), validForeignClaims())

	claims, err := m.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "carol", claims.Username)
	assert.Equal(t, core.RoleModerator, claims.Role)
	assert.Equal(t, "foreign-1", claims.TokenID)
}

func TestVerifyClaimChecks(t *testing.T) {
	m, _ := newTestTokenManager(t)

	tests := []struct {
		name   string
		mutate func(gojwt.MapClaims)
		want   error
	}{
		{"wrong issuer", func(c gojwt.MapClaims) { c["iss"] = "someone-else" }, core.ErrTokenInvalid},
		{"wrong type", func(c gojwt.MapClaims) { c["type"] = "refresh" }, core.ErrTokenInvalid},
		{"not yet valid", func(c gojwt.MapClaims) { c["nbf"] = testEpoch.Add(time.Minute).Unix() }, core.ErrTokenInvalid},
		{"missing exp", func(c gojwt.MapClaims) { delete(c, "exp") }, core.ErrTokenMalformed},
		{"missing subject", func(c gojwt.MapClaims) { delete(c, "sub") }, core.ErrTokenMalformed},
		{"non numeric subject", func(c gojwt.MapClaims) { c["sub"] = "alice" }, core.ErrTokenMalformed},
		{"missing username", func(c gojwt.MapClaims) { delete(c, "username") }, core.ErrTokenMalformed},
		{"expired", func(c gojwt.MapClaims) { c["exp"] = testEpoch.Add(-time.Second).Unix() }, core.ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validForeignClaims()
			tt.mutate(claims)
			token := foreignToken(t, gojwt.SigningMethodHS256, []byte(testSecret), claims)

			_, err := m.VerifyAccessToken(context.Background(), token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyWithoutRoleYieldsUnknownRole(t *testing.T) {
	m, _ := newTestTokenManager(t)

	claims := validForeignClaims()
	delete(claims, "role")
	token := foreignToken(t, gojwt.SigningMethodHS256, []byte(testSecret), claims)

	got, err := m.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, core.RoleUnknown, got.Role)
	assert.False(t, got.Role.Valid())
}

func TestVerifyRevokedToken(t *testing.T) {
	revocations := &fakeRevocations{revoked: map[string]bool{}}
	m, _ := newTestTokenManager(t, WithRevocationChecker(revocations))

	token, _, err := m.CreateAccessToken(AccessTokenClaims{
		UserID: 3, Username: "dave", Role: core.RoleStandard,
	})
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err)

	revocations.revoked[claims.TokenID] = true

	_, err = m.VerifyAccessToken(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)
}

func TestVerifyFailsClosedWhenRevocationCheckErrors(t *testing.T) {
	backendDown := errors.New("redis unavailable")
	m, _ := newTestTokenManager(t, WithRevocationChecker(&fakeRevocations{err: backendDown}))

	token, _, err := m.CreateAccessToken(AccessTokenClaims{
		UserID: 3, Username: "dave", Role: core.RoleStandard,
	})
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(context.Background(), token)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, backendDown)
}
