// AngelaMos | 2026
// jwt.go

package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/carterperez-dev/accounts-api/internal/config"
	"github.com/carterperez-dev/accounts-api/internal/core"
	"github.com/carterperez-dev/accounts-api/internal/middleware"
)

const (
	claimUsername = "username"
	claimRole     = "role"
	claimType     = "type"
	tokenType     = "access"
)

// RevocationChecker reports whether a token id has been revoked before its
// natural expiry.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type TokenManager struct {
	secret     []byte
	ttl        time.Duration
	issuer     string
	now        func() time.Time
	revocation RevocationChecker
}

type TokenOption func(*TokenManager)

// WithClock replaces time.Now for issuing and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithRevocationChecker(rc RevocationChecker) TokenOption {
	return func(m *TokenManager) {
		m.revocation = rc
	}
}

func NewTokenManager(
	cfg config.JWTConfig,
	opts ...TokenOption,
) (*TokenManager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret: %w", core.ErrInvalidInput)
	}
	if cfg.AccessTokenExpire <= 0 {
		return nil, fmt.Errorf("jwt ttl: %w", core.ErrInvalidInput)
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	m := &TokenManager{
		secret: secret,
		ttl:    cfg.AccessTokenExpire,
		issuer: cfg.Issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

type AccessTokenClaims struct {
	UserID   int64
	Username string
	Role     core.Role
}

// CreateAccessToken signs a token for claims and returns it with its expiry.
func (m *TokenManager) CreateAccessToken(
	claims AccessTokenClaims,
) (string, time.Time, error) {
	// NumericDate claims carry whole seconds, so issue on a second boundary
	// to keep the returned expiry equal to the signed exp.
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(m.ttl)

	token, err := jwt.NewBuilder().
		JwtID(uuid.New().String()).
		Issuer(m.issuer).
		Subject(strconv.FormatInt(claims.UserID, 10)).
		IssuedAt(now).
		NotBefore(now).
		Expiration(expiresAt).
		Claim(claimUsername, claims.Username).
		Claim(claimRole, int(claims.Role)).
		Claim(claimType, tokenType).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), m.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return string(signed), expiresAt, nil
}

// VerifyAccessToken checks, in order: structure, signature, expiry, then
// the remaining registered claims and the revocation list.
func (m *TokenManager) VerifyAccessToken(
	ctx context.Context,
	tokenString string,
) (*middleware.AccessTokenClaims, error) {
	raw := []byte(tokenString)

	if _, err := jws.Parse(raw); err != nil {
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenMalformed)
	}

	if _, err := jws.Verify(raw, jws.WithKey(jwa.HS256(), m.secret)); err != nil {
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenSignature)
	}

	token, err := jwt.ParseInsecure(raw)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenMalformed)
	}

	now := m.now()

	expiresAt, ok := token.Expiration()
	if !ok {
		return nil, fmt.Errorf("verify token: missing exp: %w", core.ErrTokenMalformed)
	}
	if now.After(expiresAt) {
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
	}

	if notBefore, ok := token.NotBefore(); ok && now.Before(notBefore) {
		return nil, fmt.Errorf("verify token: not yet valid: %w", core.ErrTokenInvalid)
	}

	if issuer, _ := token.Issuer(); issuer != m.issuer {
		return nil, fmt.Errorf("verify token: issuer mismatch: %w", core.ErrTokenInvalid)
	}

	var typ string
	if err := token.Get(claimType, &typ); err != nil || typ != tokenType {
		return nil, fmt.Errorf("verify token: invalid token type: %w", core.ErrTokenInvalid)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf("verify token: missing subject: %w", core.ErrTokenMalformed)
	}
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || userID < 1 {
		return nil, fmt.Errorf("verify token: bad subject: %w", core.ErrTokenMalformed)
	}

	var username string
	if err := token.Get(claimUsername, &username); err != nil {
		return nil, fmt.Errorf("verify token: missing username: %w", core.ErrTokenMalformed)
	}

	// Numeric claims decode as float64. A token without a role still
	// authenticates; RequireRole rejects it.
	role := core.RoleUnknown
	var roleNum float64
	if err := token.Get(claimRole, &roleNum); err == nil {
		role = core.Role(int(roleNum))
	}

	tokenID, _ := token.JwtID()

	if m.revocation != nil && tokenID != "" {
		revoked, err := m.revocation.IsRevoked(ctx, tokenID)
		if err != nil {
			return nil, fmt.Errorf("verify token: check revocation: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("verify token: %w", core.ErrTokenRevoked)
		}
	}

	return &middleware.AccessTokenClaims{
		UserID:    userID,
		Username:  username,
		Role:      role,
		TokenID:   tokenID,
		ExpiresAt: expiresAt,
	}, nil
}

var _ middleware.TokenVerifier = (*TokenManager)(nil)
