// AngelaMos | 2026
// role.go

package core

import (
	"fmt"
	"strconv"
)

// Role is a privilege rank. Lower values carry more privilege; the zero
// value is not a role and never satisfies a requirement.
type Role int

const (
	RoleUnknown   Role = 0
	RoleAdmin     Role = 1
	RoleModerator Role = 2
	RoleStandard  Role = 3
)

const DefaultRole = RoleStandard

func (r Role) Valid() bool {
	return r >= RoleAdmin && r <= RoleStandard
}

// Satisfies reports whether r is at least as privileged as max.
func (r Role) Satisfies(max Role) bool {
	return r.Valid() && r <= max
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleModerator:
		return "moderator"
	case RoleStandard:
		return "user"
	default:
		return "unknown(" + strconv.Itoa(int(r)) + ")"
	}
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "admin", "1":
		return RoleAdmin, nil
	case "moderator", "2":
		return RoleModerator, nil
	case "user", "standard", "3":
		return RoleStandard, nil
	}
	return RoleUnknown, fmt.Errorf("parse role %q: %w", s, ErrInvalidInput)
}
