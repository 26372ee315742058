package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/courtside-hq/courtside/internal/platform/httpx"
	"github.com/courtside-hq/courtside/internal/shared"
)

// RolesHandler exposes tenant-scoped role administration.
type RolesHandler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	mw       Middleware
}

// NewRolesHandler builds RolesHandler instance.
func NewRolesHandler(logger *slog.Logger, service *Service, mw Middleware) *RolesHandler {
	return &RolesHandler{logger: logger, service: service, validate: validator.New(), mw: mw}
}

// MountRoutes registers role routes. Reads need tenant membership, writes
// need tenant admin (or sys admin).
func (h *RolesHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireTenantMember)
		r.Get("/", h.listRoles)
		r.Get("/{roleID}/permissions", h.listRolePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireTenantAdmin)
		r.Post("/", h.createRole)
		r.Put("/{roleID}", h.updateRole)
		r.Delete("/{roleID}", h.deleteRole)
		r.Post("/{roleID}/permissions", h.attachPermission)
		r.Delete("/{roleID}/permissions/{permissionID}", h.detachPermission)
	})
}

type roleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:          role.ID.String(),
		Name:        role.Name,
		DisplayName: role.DisplayName,
		Description: role.Description,
		IsActive:    role.IsActive,
		IsSystem:    role.IsSystem,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func (h *RolesHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	roles, err := h.service.GetAllRoles(r.Context(), ident.TenantID)
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

type createRolePayload struct {
	Name        string `json:"name" validate:"required,max=100"`
	DisplayName string `json:"display_name" validate:"max=200"`
	Description string `json:"description" validate:"max=500"`
}

func (h *RolesHandler) createRole(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var payload createRolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if fields, ok := h.validatePayload(payload); !ok {
		httpx.ValidationProblem(w, fields)
		return
	}
	role, err := h.service.CreateRole(r.Context(), CreateRoleParams{
		TenantID:    ident.TenantID,
		Name:        payload.Name,
		DisplayName: payload.DisplayName,
		Description: payload.Description,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "a role with this name already exists")
			return
		}
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

type updateRolePayload struct {
	Name        string `json:"name" validate:"required,max=100"`
	DisplayName string `json:"display_name" validate:"max=200"`
	Description string `json:"description" validate:"max=500"`
	IsActive    bool   `json:"is_active"`
}

func (h *RolesHandler) updateRole(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	var payload updateRolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if fields, ok := h.validatePayload(payload); !ok {
		httpx.ValidationProblem(w, fields)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), UpdateRoleParams{
		ID:          roleID,
		TenantID:    ident.TenantID,
		Name:        payload.Name,
		DisplayName: payload.DisplayName,
		Description: payload.Description,
		IsActive:    payload.IsActive,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.RespondError(w, httpx.ErrNotFound)
		case errors.Is(err, ErrAlreadyExists):
			httpx.Problem(w, http.StatusConflict, "Conflict", "a role with this name already exists")
		default:
			h.fail(w, "update role", err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *RolesHandler) deleteRole(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	if err := h.service.DeleteRole(r.Context(), roleID, ident.TenantID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RolesHandler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	perms, err := h.service.GetRolePermissions(r.Context(), roleID, ident.TenantID)
	if err != nil {
		h.fail(w, "list role permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, perm := range perms {
		out = append(out, toPermissionResponse(perm))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type attachPermissionPayload struct {
	PermissionID string `json:"permission_id" validate:"required,uuid"`
}

func (h *RolesHandler) attachPermission(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	var payload attachPermissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if fields, ok := h.validatePayload(payload); !ok {
		httpx.ValidationProblem(w, fields)
		return
	}
	permissionID, err := uuid.Parse(payload.PermissionID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid permission id")
		return
	}
	if err := h.service.AssignPermissionToRole(r.Context(), roleID, permissionID, ident.TenantID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", "role or permission does not exist")
		case errors.Is(err, ErrAlreadyExists):
			httpx.Problem(w, http.StatusConflict, "Conflict", "permission already attached to role")
		default:
			h.fail(w, "attach permission", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RolesHandler) detachPermission(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	permissionID, err := uuid.Parse(chi.URLParam(r, "permissionID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid permission id")
		return
	}
	if err := h.service.RemovePermissionFromRole(r.Context(), roleID, permissionID, ident.TenantID); err != nil {
		h.fail(w, "detach permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RolesHandler) validatePayload(payload any) (map[string]string, bool) {
	if err := h.validate.Struct(payload); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		return fields, false
	}
	return nil, true
}

func (h *RolesHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
