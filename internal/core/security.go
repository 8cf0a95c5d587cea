// AngelaMos | 2026
// security.go

package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultBcryptCost = 10
	dummyPassword     = "dummy_password_for_timing_attack_prevention"
)

// PasswordHasher wraps bcrypt with a configurable work factor. Concurrent
// hashing is bounded so a burst of logins cannot starve the process.
type PasswordHasher struct {
	cost      int
	slots     *semaphore.Weighted
	dummyHash string
}

func NewPasswordHasher(cost, maxConcurrent int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf(
			"bcrypt cost %d outside [%d, %d]: %w",
			cost, bcrypt.MinCost, bcrypt.MaxCost, ErrInvalidInput,
		)
	}

	if maxConcurrent < 1 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &PasswordHasher{
		cost:      cost,
		slots:     semaphore.NewWeighted(int64(maxConcurrent)),
		dummyHash: string(dummy),
	}, nil
}

func (h *PasswordHasher) Cost() int {
	return h.cost
}

func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.slots.Release(1)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("hash password: %w", ErrInvalidInput)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hash), nil
}

// Verify reports whether password matches encodedHash. Malformed hashes and
// cancelled contexts yield false, never an error.
func (h *PasswordHasher) Verify(
	ctx context.Context,
	password, encodedHash string,
) bool {
	if encodedHash == "" {
		return false
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.slots.Release(1)

	return bcrypt.CompareHashAndPassword(
		[]byte(encodedHash),
		[]byte(password),
	) == nil
}

// VerifyTimingSafe spends the same work whether or not an account exists.
// A nil or empty hash always fails.
func (h *PasswordHasher) VerifyTimingSafe(
	ctx context.Context,
	password string,
	encodedHash *string,
) bool {
	hashToVerify := h.dummyHash
	if encodedHash != nil && *encodedHash != "" {
		hashToVerify = *encodedHash
	}

	valid := h.Verify(ctx, password, hashToVerify)

	if encodedHash == nil || *encodedHash == "" {
		return false
	}

	return valid
}

func (h *PasswordHasher) NeedsRehash(encodedHash string) bool {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return true
	}
	return cost != h.cost
}
