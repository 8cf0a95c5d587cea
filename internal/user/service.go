// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/accounts-api/internal/auth"
	"github.com/carterperez-dev/accounts-api/internal/core"
	"github.com/carterperez-dev/accounts-api/internal/middleware"
)

var (
	ErrAlreadyInactive = fmt.Errorf("user is already inactive: %w", core.ErrConflict)
	ErrAlreadyActive   = fmt.Errorf("user is already active: %w", core.ErrConflict)
	ErrOutranked       = fmt.Errorf("user outranks the caller: %w", core.ErrForbidden)
)

// Service owns the account lifecycle and doubles as the credential store
// the auth service reads from.
type Service struct {
	repo    Repository
	revoker auth.TokenRevoker
}

func NewService(repo Repository, revoker auth.TokenRevoker) *Service {
	return &Service{repo: repo, revoker: revoker}
}

func (s *Service) GetByID(
	ctx context.Context,
	id int64,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) GetByUsername(
	ctx context.Context,
	username string,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) Create(
	ctx context.Context,
	username, passwordHash string,
) (*auth.UserInfo, error) {
	user := &User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         core.DefaultRole,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) UpdatePassword(
	ctx context.Context,
	id int64,
	passwordHash string,
) error {
	return s.repo.UpdatePassword(ctx, id, passwordHash)
}

// Get returns one account. Callers below moderator cannot see deactivated
// accounts.
func (s *Service) Get(
	ctx context.Context,
	caller core.Role,
	id int64,
) (*User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !user.IsActive() && !caller.Satisfies(core.RoleModerator) {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}

	return user, nil
}

func (s *Service) List(
	ctx context.Context,
	caller core.Role,
	params ListUsersParams,
) ([]User, int, error) {
	if !caller.Satisfies(core.RoleModerator) {
		params.IncludeInactive = false
	}
	return s.repo.List(ctx, params)
}

// Deactivate and Reactivate refuse targets that outrank caller.
func (s *Service) Deactivate(
	ctx context.Context,
	caller core.Role,
	id int64,
) (*User, error) {
	return s.setInactive(ctx, "user.Deactivate", id, true, &caller)
}

func (s *Service) Reactivate(
	ctx context.Context,
	caller core.Role,
	id int64,
) (*User, error) {
	return s.setInactive(ctx, "user.Reactivate", id, false, &caller)
}

// DeactivateSelf deactivates the caller's own account and revokes the token
// that made the request.
func (s *Service) DeactivateSelf(
	ctx context.Context,
	claims *middleware.AccessTokenClaims,
) (*User, error) {
	if claims == nil || claims.UserID == 0 {
		return nil, fmt.Errorf("deactivate self: %w", core.ErrUnauthorized)
	}

	user, err := s.setInactive(ctx, "user.DeactivateSelf", claims.UserID, true, nil)
	if err != nil {
		return nil, err
	}

	if s.revoker != nil && claims.TokenID != "" {
		if err := s.revoker.Revoke(ctx, claims.TokenID, claims.ExpiresAt); err != nil {
			return nil, fmt.Errorf("revoke token: %w", err)
		}
	}

	return user, nil
}

func (s *Service) HardDelete(ctx context.Context, id int64) (err error) {
	ctx, span := core.StartSpan(ctx, "user.HardDelete",
		attribute.Int64("user.id", id))
	defer func() { core.EndSpan(span, err) }()

	return s.repo.Delete(ctx, id)
}

// EnsureAccount creates username with role, or sets role and password on
// the existing account. The bool reports whether a row was created.
func (s *Service) EnsureAccount(
	ctx context.Context,
	username, passwordHash string,
	role core.Role,
) (*User, bool, error) {
	existing, err := s.repo.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, core.ErrNotFound):
		user := &User{
			Username:     username,
			PasswordHash: passwordHash,
			Role:         role,
		}
		if err := s.repo.Create(ctx, user); err != nil {
			return nil, false, err
		}
		return user, true, nil
	case err != nil:
		return nil, false, err
	}

	if err := s.repo.UpdatePassword(ctx, existing.ID, passwordHash); err != nil {
		return nil, false, err
	}

	updated, err := s.repo.UpdateRole(ctx, existing.ID, role)
	if err != nil {
		return nil, false, err
	}

	return updated, false, nil
}

func (s *Service) Counts(ctx context.Context) (*Counts, error) {
	return s.repo.Counts(ctx)
}

func (s *Service) setInactive(
	ctx context.Context,
	op string,
	id int64,
	inactive bool,
	caller *core.Role,
) (user *User, err error) {
	ctx, span := core.StartSpan(ctx, op, attribute.Int64("user.id", id))
	defer func() { core.EndSpan(span, err) }()

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// A nil caller is the account holder acting on their own record.
	if caller != nil && !current.ManageableBy(*caller) {
		return nil, ErrOutranked
	}

	if current.IsActive() != inactive {
		return nil, transitionConflict(inactive)
	}

	// The repository update is conditional on the old state, so a concurrent
	// toggle that wins the race surfaces here as a conflict.
	user, err = s.repo.SetInactive(ctx, id, inactive)
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil, transitionConflict(inactive)
		}
		return nil, err
	}

	return user, nil
}

func transitionConflict(inactive bool) error {
	if inactive {
		return ErrAlreadyInactive
	}
	return ErrAlreadyActive
}

func toUserInfo(u *User) *auth.UserInfo {
	return &auth.UserInfo{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Inactive:     u.Inactive,
	}
}

var _ auth.UserProvider = (*Service)(nil)
