// AngelaMos | 2026
// repository_fake_test.go

package user

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/carterperez-dev/accounts-api/internal/core"
)

// memRepository mirrors the Postgres repository semantics closely enough
// for service and handler tests: unique usernames, conditional toggles and
// a clock that only moves when the test advances it.
type memRepository struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*User
	now    time.Time
}

func newMemRepository() *memRepository {
	return &memRepository{
		users: map[int64]*User{},
		now:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memRepository) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *memRepository) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == user.Username {
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
	}

	if !user.Role.Valid() {
		user.Role = core.DefaultRole
	}
	m.nextID++
	user.ID = m.nextID
	user.Inactive = false
	user.CreatedAt = m.now
	user.UpdatedAt = m.now

	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memRepository) GetByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *memRepository) GetByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get user by username: %w", core.ErrNotFound)
}

func (m *memRepository) UpdatePassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("update password: %w", core.ErrNotFound)
	}
	u.PasswordHash = hash
	u.UpdatedAt = m.now
	return nil
}

func (m *memRepository) UpdateRole(_ context.Context, id int64, role core.Role) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !role.Valid() {
		return nil, fmt.Errorf("update role: %w", core.ErrInvalidInput)
	}
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("update role: %w", core.ErrNotFound)
	}
	u.Role = role
	u.UpdatedAt = m.now
	cp := *u
	return &cp, nil
}

func (m *memRepository) SetInactive(_ context.Context, id int64, inactive bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok || u.Inactive == inactive {
		return nil, fmt.Errorf("set inactive: %w", core.ErrConflict)
	}
	u.Inactive = inactive
	u.UpdatedAt = m.now
	cp := *u
	return &cp, nil
}

func (m *memRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("delete user: %w", core.ErrNotFound)
	}
	delete(m.users, id)
	return nil
}

func (m *memRepository) List(_ context.Context, params ListUsersParams) ([]User, int, error) {
	params.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]User, 0, len(m.users))
	for _, u := range m.users {
		if u.Inactive && !params.IncludeInactive {
			continue
		}
		if params.Search != "" && !strings.Contains(u.Username, params.Search) {
			continue
		}
		if params.Role.Valid() && u.Role != params.Role {
			continue
		}
		matched = append(matched, *u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	start := min(params.Offset(), total)
	end := min(start+params.PageSize, total)

	return matched[start:end], total, nil
}

func (m *memRepository) Counts(_ context.Context) (*Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c Counts
	for _, u := range m.users {
		c.Total++
		if u.Inactive {
			c.Inactive++
		} else {
			c.Active++
		}
		if u.Role == core.RoleAdmin {
			c.Admins++
		}
	}
	return &c, nil
}

var _ Repository = (*memRepository)(nil)
