// AngelaMos | 2026
// handler.go

package user

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carterperez-dev/accounts-api/internal/core"
	"github.com/carterperez-dev/accounts-api/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the account endpoints. Reading and self
// deactivation need any valid identity; toggling other accounts needs a
// moderator and permanent deletion an admin.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Route("/users", func(r chi.Router) {
		r.Use(authenticator)

		r.Get("/", h.ListUsers)
		r.Delete("/me", h.DeactivateMe)
		r.Get("/{userID}", h.GetUser)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(core.RoleModerator))
			r.Post("/{userID}/deactivate", h.Deactivate)
			r.Post("/{userID}/reactivate", h.Reactivate)
		})

		r.With(middleware.RequireRole(core.RoleAdmin)).
			Delete("/{userID}", h.DeleteUser)
	})
}

// ListUsers returns a page of accounts, or a single account when ?id= is
// present.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserRole(r.Context())
	query := r.URL.Query()

	if raw := query.Get("id"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			core.BadRequest(w, "invalid user id")
			return
		}
		h.writeUser(w, r, caller, id)
		return
	}

	params := ListUsersParams{
		Page:            parseIntQuery(r, "page", 1),
		PageSize:        parseIntQuery(r, "page_size", 20),
		Search:          query.Get("search"),
		IncludeInactive: query.Get("include_inactive") == "true",
	}

	if raw := query.Get("role"); raw != "" {
		role, err := core.ParseRole(raw)
		if err != nil {
			core.BadRequest(w, "invalid role")
			return
		}
		params.Role = role
	}

	users, total, err := h.service.List(r.Context(), caller, params)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	params.Normalize()
	core.Paginated(
		w,
		ToUserResponseList(users),
		params.Page,
		params.PageSize,
		total,
	)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "userID"))
	if !ok {
		core.BadRequest(w, "invalid user id")
		return
	}

	h.writeUser(w, r, middleware.GetUserRole(r.Context()), id)
}

func (h *Handler) DeactivateMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.DeactivateSelf(
		r.Context(),
		middleware.GetClaims(r.Context()),
	)
	if err != nil {
		handleUserError(w, err)
		return
	}

	core.OK(w, ToUserResponse(user))
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "userID"))
	if !ok {
		core.BadRequest(w, "invalid user id")
		return
	}

	user, err := h.service.Deactivate(
		r.Context(),
		middleware.GetUserRole(r.Context()),
		id,
	)
	if err != nil {
		handleUserError(w, err)
		return
	}

	core.OK(w, ToUserResponse(user))
}

func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "userID"))
	if !ok {
		core.BadRequest(w, "invalid user id")
		return
	}

	user, err := h.service.Reactivate(
		r.Context(),
		middleware.GetUserRole(r.Context()),
		id,
	)
	if err != nil {
		handleUserError(w, err)
		return
	}

	core.OK(w, ToUserResponse(user))
}

// DeleteUser permanently removes an account.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "userID"))
	if !ok {
		core.BadRequest(w, "invalid user id")
		return
	}

	if err := h.service.HardDelete(r.Context(), id); err != nil {
		handleUserError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) writeUser(
	w http.ResponseWriter,
	r *http.Request,
	caller core.Role,
	id int64,
) {
	user, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		handleUserError(w, err)
		return
	}

	core.OK(w, ToUserResponse(user))
}

func handleUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAlreadyInactive):
		core.Conflict(w, "user is already inactive")
	case errors.Is(err, ErrAlreadyActive):
		core.Conflict(w, "user is already active")
	case errors.Is(err, core.ErrNotFound):
		core.NotFound(w, "user")
	case errors.Is(err, core.ErrUnauthorized):
		core.Unauthorized(w, "")
	case errors.Is(err, core.ErrForbidden):
		core.Forbidden(w, "")
	default:
		core.InternalServerError(w, err)
	}
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return parsed
}
