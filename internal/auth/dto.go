// AngelaMos | 2026
// dto.go

package auth

import (
	"time"
)

// Login and register fields are deliberately not tagged "required": empty
// credentials are a business-rule failure with its own status, not a
// malformed request.
type LoginRequest struct {
	Username string `json:"username" validate:"max=255"`
	Password string `json:"password" validate:"max=72"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"max=255"`
	Password string `json:"password" validate:"max=72"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"     validate:"max=72"`
}

type RegisterResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresIn int       `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
