// AngelaMos | 2026
// entity.go

package user

import (
	"time"

	"github.com/carterperez-dev/accounts-api/internal/core"
)

type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         core.Role `db:"role"`
	Inactive     bool      `db:"inactive"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (u *User) IsActive() bool {
	return !u.Inactive
}

// ManageableBy reports whether caller may change this account's state.
// Nobody acts on an account more privileged than their own.
func (u *User) ManageableBy(caller core.Role) bool {
	if !caller.Valid() {
		return false
	}
	return !u.Role.Valid() || u.Role >= caller
}
