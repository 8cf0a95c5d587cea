// AngelaMos | 2026
// handler_test.go

package user

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/carterperez-dev/accounts-api/internal/auth"
	"github.com/carterperez-dev/accounts-api/internal/config"
	"github.com/carterperez-dev/accounts-api/internal/core"
	"github.com/carterperez-dev/accounts-api/internal/middleware"
)

type memDenylist struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (d *memDenylist) Revoke(_ context.Context, id string, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = true
	return nil
}

func (d *memDenylist) IsRevoked(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ids[id], nil
}

type apiFixture struct {
	srv  *httptest.Server
	repo *memRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	hasher, err := core.NewPasswordHasher(bcrypt.MinCost, 4)
	require.NoError(t, err)

	denylist := &memDenylist{ids: map[string]bool{}}
	tokens, err := auth.NewTokenManager(config.JWTConfig{
		Secret:            "test-secret-test-secret-test-secret",
		AccessTokenExpire: time.Hour,
		Issuer:            "accounts-api",
	}, auth.WithRevocationChecker(denylist))
	require.NoError(t, err)

	repo := newMemRepository()
	userSvc := NewService(repo, denylist)
	authSvc := auth.NewService(userSvc, tokens, hasher, denylist, nil)

	authenticator := middleware.Authenticator(tokens)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		auth.NewHandler(authSvc).RegisterRoutes(r, authenticator, nil)
		NewHandler(userSvc).RegisterRoutes(r, authenticator)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &apiFixture{srv: srv, repo: repo}
}

type apiResponse struct {
	status int
	body   []byte
}

func (r apiResponse) errorBody(t *testing.T) core.ErrorBody {
	t.Helper()

	var env core.ErrorResponse
	require.NoError(t, json.Unmarshal(r.body, &env), string(r.body))
	return env.Error
}

func (r apiResponse) decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, dst), string(r.body))
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) apiResponse {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)

	return apiResponse{status: resp.StatusCode, body: out.Bytes()}
}

func (f *apiFixture) register(t *testing.T, username, password string) int64 {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))

	var reg auth.RegisterResponse
	resp.decode(t, &reg)
	return reg.ID
}

func (f *apiFixture) login(t *testing.T, username, password string) string {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	var tok auth.TokenResponse
	resp.decode(t, &tok)
	require.NotEmpty(t, tok.Token)
	return tok.Token
}

func (f *apiFixture) promote(t *testing.T, id int64, role core.Role) {
	t.Helper()
	_, err := f.repo.UpdateRole(context.Background(), id, role)
	require.NoError(t, err)
}

type userPage struct {
	Items []UserResponse `json:"items"`
	Total int            `json:"total"`
}

func TestAliceScenario(t *testing.T) {
	f := newAPIFixture(t)

	aliceID := f.register(t, "alice", "s3cret")
	token := f.login(t, "alice", "s3cret")

	resp := f.do(t, http.MethodGet, "/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, core.CodeUnauthenticated, resp.errorBody(t).Code)

	resp = f.do(t, http.MethodGet, "/v1/users", token, nil)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	var page userPage
	resp.decode(t, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, aliceID, page.Items[0].ID)
	assert.Equal(t, "alice", page.Items[0].Username)
	assert.NotContains(t, string(resp.body), "password")
}

func TestRegisterErrorsOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice", "s3cret")

	resp := f.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "alice",
		"password": "other-pass",
	})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	body := resp.errorBody(t)
	assert.Equal(t, core.CodeDuplicateUsername, body.Code)
	assert.Equal(t, "username 'alice' already exists", body.Message)

	resp = f.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "bob",
		"password": "abc",
	})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, core.CodeInvalidInput, resp.errorBody(t).Code)

	resp = f.do(t, http.MethodPost, "/v1/auth/register", "", "not an object")
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice", "s3cret")

	unknown := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "nobody",
		"password": "s3cret",
	})
	wrong := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": "wrong!",
	})

	assert.Equal(t, http.StatusUnauthorized, unknown.status)
	assert.Equal(t, unknown.status, wrong.status)
	assert.Equal(t, unknown.errorBody(t), wrong.errorBody(t))
	assert.Equal(t, core.CodeInvalidCredentials, wrong.errorBody(t).Code)
}

func TestGetUserByQueryID(t *testing.T) {
	f := newAPIFixture(t)
	id := f.register(t, "alice", "s3cret")
	token := f.login(t, "alice", "s3cret")

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/v1/users?id=%d", id), token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var got UserResponse
	resp.decode(t, &got)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "user", got.Role)

	resp = f.do(t, http.MethodGet, "/v1/users?id=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = f.do(t, http.MethodGet, "/v1/users?id=999", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, core.CodeNotFound, resp.errorBody(t).Code)

	resp = f.do(t, http.MethodGet, "/v1/users/0", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestRoleGatedLifecycleRoutes(t *testing.T) {
	f := newAPIFixture(t)

	f.register(t, "alice", "s3cret")
	modID := f.register(t, "mod", "s3cret")
	adminID := f.register(t, "root", "s3cret")
	carolID := f.register(t, "carol", "s3cret")
	f.promote(t, modID, core.RoleModerator)
	f.promote(t, adminID, core.RoleAdmin)

	alice := f.login(t, "alice", "s3cret")
	mod := f.login(t, "mod", "s3cret")
	admin := f.login(t, "root", "s3cret")

	deactivate := fmt.Sprintf("/v1/users/%d/deactivate", carolID)
	reactivate := fmt.Sprintf("/v1/users/%d/reactivate", carolID)
	remove := fmt.Sprintf("/v1/users/%d", carolID)

	resp := f.do(t, http.MethodPost, deactivate, alice, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = f.do(t, http.MethodPost, deactivate, mod, nil)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	var got UserResponse
	resp.decode(t, &got)
	assert.True(t, got.Inactive)

	resp = f.do(t, http.MethodPost, deactivate, mod, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	body := resp.errorBody(t)
	assert.Equal(t, core.CodeConflict, body.Code)
	assert.Equal(t, "user is already inactive", body.Message)

	resp = f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "carol",
		"password": "s3cret",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = f.do(t, http.MethodPost, reactivate, admin, nil)
	assert.Equal(t, http.StatusOK, resp.status)

	resp = f.do(t, http.MethodDelete, remove, mod, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = f.do(t, http.MethodDelete, remove, admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.status)

	resp = f.do(t, http.MethodDelete, remove, admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = f.do(t, http.MethodPost, "/v1/users/999/deactivate", mod, nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestModeratorCannotToggleAdmin(t *testing.T) {
	f := newAPIFixture(t)

	modID := f.register(t, "mod", "s3cret")
	adminID := f.register(t, "root", "s3cret")
	f.promote(t, modID, core.RoleModerator)
	f.promote(t, adminID, core.RoleAdmin)

	mod := f.login(t, "mod", "s3cret")
	admin := f.login(t, "root", "s3cret")

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%d/deactivate", adminID), mod, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, core.CodeForbidden, resp.errorBody(t).Code)

	stored, err := f.repo.GetByID(context.Background(), adminID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive())

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%d/deactivate", modID), admin, nil)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
}

// Deactivation by someone else blocks new logins at once. Tokens already
// issued to the account run until their own expiry.
func TestModeratorDeactivationLeavesIssuedTokens(t *testing.T) {
	f := newAPIFixture(t)

	modID := f.register(t, "mod", "s3cret")
	carolID := f.register(t, "carol", "s3cret")
	f.promote(t, modID, core.RoleModerator)

	mod := f.login(t, "mod", "s3cret")
	carol := f.login(t, "carol", "s3cret")

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%d/deactivate", carolID), mod, nil)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	resp = f.do(t, http.MethodGet, "/v1/users", carol, nil)
	assert.Equal(t, http.StatusOK, resp.status)

	resp = f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "carol",
		"password": "s3cret",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestSelfDeactivationRevokesToken(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice", "s3cret")
	token := f.login(t, "alice", "s3cret")

	resp := f.do(t, http.MethodDelete, "/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	resp = f.do(t, http.MethodGet, "/v1/users", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": "s3cret",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestPasswordRotationOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice", "old-pass")
	token := f.login(t, "alice", "old-pass")

	resp := f.do(t, http.MethodPut, "/v1/auth/password", token, map[string]string{
		"currentPassword": "wrong",
		"newPassword":     "new-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = f.do(t, http.MethodPut, "/v1/auth/password", token, map[string]string{
		"currentPassword": "old-pass",
	})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = f.do(t, http.MethodPut, "/v1/auth/password", token, map[string]string{
		"currentPassword": "old-pass",
		"newPassword":     "new-pass",
	})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	f.login(t, "alice", "new-pass")

	resp = f.do(t, http.MethodPut, "/v1/auth/password", "", map[string]string{
		"currentPassword": "new-pass",
		"newPassword":     "newer-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestLogoutAndMe(t *testing.T) {
	f := newAPIFixture(t)
	id := f.register(t, "alice", "s3cret")
	token := f.login(t, "alice", "s3cret")

	resp := f.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var me auth.UserResponse
	resp.decode(t, &me)
	assert.Equal(t, auth.UserResponse{ID: id, Username: "alice", Role: "user"}, me)

	resp = f.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.status)

	resp = f.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}
