// AngelaMos | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/accounts-api/internal/core"
	"github.com/carterperez-dev/accounts-api/internal/middleware"
)

const minPasswordLength = 4

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
)

// UsernameTakenError carries the conflicting username so it can be echoed
// back to the client.
type UsernameTakenError struct {
	Username string
}

func (e *UsernameTakenError) Error() string {
	return fmt.Sprintf("username '%s' already exists", e.Username)
}

func (e *UsernameTakenError) Is(target error) bool {
	return target == ErrUsernameTaken
}

type UserInfo struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         core.Role
	Inactive     bool
}

type UserProvider interface {
	GetByUsername(ctx context.Context, username string) (*UserInfo, error)
	GetByID(ctx context.Context, id int64) (*UserInfo, error)
	Create(ctx context.Context, username, passwordHash string) (*UserInfo, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

type Service struct {
	users   UserProvider
	tokens  *TokenManager
	hasher  *core.PasswordHasher
	revoker TokenRevoker
	metrics *Metrics
}

func NewService(
	users UserProvider,
	tokens *TokenManager,
	hasher *core.PasswordHasher,
	revoker TokenRevoker,
	metrics *Metrics,
) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		hasher:  hasher,
		revoker: revoker,
		metrics: metrics,
	}
}

func (s *Service) Register(
	ctx context.Context,
	req RegisterRequest,
) (resp *RegisterResponse, err error) {
	ctx, span := core.StartSpan(ctx, "auth.Register")
	defer func() { core.EndSpan(span, err) }()

	username := strings.TrimSpace(req.Username)
	if username == "" {
		s.metrics.registration(outcomeInvalid)
		return nil, core.BadRequestError("username is required")
	}
	if !passwordLongEnough(req.Password) {
		s.metrics.registration(outcomeInvalid)
		return nil, core.BadRequestError(
			fmt.Sprintf("password must be at least %d characters", minPasswordLength),
		)
	}

	existing, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		s.metrics.registration(outcomeRejected)
		return nil, &UsernameTakenError{Username: existing.Username}
	case !errors.Is(err, core.ErrNotFound):
		s.metrics.registration(outcomeError)
		return nil, fmt.Errorf("get user: %w", err)
	}

	passwordHash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		s.metrics.registration(outcomeError)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, username, passwordHash)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			s.metrics.registration(outcomeRejected)
			return nil, &UsernameTakenError{Username: username}
		}
		s.metrics.registration(outcomeError)
		return nil, fmt.Errorf("create user: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	s.metrics.registration(outcomeSuccess)

	return &RegisterResponse{ID: user.ID, Username: user.Username}, nil
}

func (s *Service) Login(
	ctx context.Context,
	req LoginRequest,
) (resp *TokenResponse, err error) {
	ctx, span := core.StartSpan(ctx, "auth.Login")
	defer func() { core.EndSpan(span, err) }()

	username := strings.TrimSpace(req.Username)

	var user *UserInfo
	if username != "" {
		user, err = s.users.GetByUsername(ctx, username)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			s.metrics.login(outcomeError)
			return nil, fmt.Errorf("get user: %w", err)
		}
	}

	var storedHash *string
	if user != nil {
		storedHash = &user.PasswordHash
	}

	// Always pay for one bcrypt comparison so unknown and known usernames
	// are indistinguishable by latency.
	valid := s.hasher.VerifyTimingSafe(ctx, req.Password, storedHash)
	if !valid || user == nil || user.Inactive {
		s.metrics.login(outcomeRejected)
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, req.Password)
	}

	token, expiresAt, err := s.tokens.CreateAccessToken(AccessTokenClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	})
	if err != nil {
		s.metrics.login(outcomeError)
		return nil, fmt.Errorf("create access token: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	s.metrics.login(outcomeSuccess)

	return &TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(s.tokens.TTL() / time.Second),
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) UpdatePassword(
	ctx context.Context,
	userID int64,
	req ChangePasswordRequest,
) (err error) {
	ctx, span := core.StartSpan(ctx, "auth.UpdatePassword",
		attribute.Int64("user.id", userID))
	defer func() { core.EndSpan(span, err) }()

	if req.CurrentPassword == "" || req.NewPassword == "" {
		s.metrics.passwordChange(outcomeInvalid)
		return core.BadRequestError("current and new password are required")
	}
	if !passwordLongEnough(req.NewPassword) {
		s.metrics.passwordChange(outcomeInvalid)
		return core.BadRequestError(
			fmt.Sprintf("new password must be at least %d characters", minPasswordLength),
		)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.metrics.passwordChange(outcomeRejected)
		} else {
			s.metrics.passwordChange(outcomeError)
		}
		return fmt.Errorf("get user: %w", err)
	}

	if !s.hasher.Verify(ctx, req.CurrentPassword, user.PasswordHash) {
		s.metrics.passwordChange(outcomeRejected)
		return ErrInvalidCredentials
	}

	newHash, err := s.hasher.Hash(ctx, req.NewPassword)
	if err != nil {
		s.metrics.passwordChange(outcomeError)
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
		s.metrics.passwordChange(outcomeError)
		return fmt.Errorf("update password: %w", err)
	}

	s.metrics.passwordChange(outcomeSuccess)
	return nil
}

// Logout revokes the presented token until it would have expired.
func (s *Service) Logout(
	ctx context.Context,
	claims *middleware.AccessTokenClaims,
) error {
	if claims == nil {
		return fmt.Errorf("logout: %w", core.ErrUnauthorized)
	}
	if s.revoker == nil || claims.TokenID == "" {
		return nil
	}

	if err := s.revoker.Revoke(ctx, claims.TokenID, claims.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	return nil
}

func (s *Service) CurrentUser(
	ctx context.Context,
	userID int64,
) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &UserResponse{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role.String(),
	}, nil
}

func (s *Service) rehash(ctx context.Context, userID int64, password string) {
	newHash, err := s.hasher.Hash(ctx, password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, userID, newHash)
	}
	if err != nil {
		slog.WarnContext(ctx, "password rehash failed",
			"user_id", userID,
			"error", err,
		)
	}
}

func passwordLongEnough(password string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(password)) >= minPasswordLength
}
