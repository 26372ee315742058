package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/courtside-hq/courtside/internal/platform/httpx"
	"github.com/courtside-hq/courtside/internal/shared"
)

// PermissionsHandler exposes tenant-scoped permission administration.
type PermissionsHandler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	mw       Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, mw Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, validate: validator.New(), mw: mw}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireTenantMember)
		r.Get("/", h.listPermissions)
		r.Get("/lookup", h.lookupPermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireTenantAdmin)
		r.Post("/", h.createPermission)
		r.Put("/{permissionID}", h.updatePermission)
	})
}

type permissionResponse struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	Resource    string `json:"resource"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

func toPermissionResponse(perm Permission) permissionResponse {
	return permissionResponse{
		ID:          perm.ID.String(),
		Action:      string(perm.Action),
		Resource:    string(perm.Resource),
		Description: perm.Description,
		IsActive:    perm.IsActive,
	}
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	perms, err := h.service.GetAllPermissions(r.Context(), ident.TenantID)
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, perm := range perms {
		out = append(out, toPermissionResponse(perm))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

// lookupPermission resolves a permission by its (action, resource) compound
// key. A miss is a 404, matching how callers treat the pair as an identifier.
func (h *PermissionsHandler) lookupPermission(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	action, err := ParseAction(r.URL.Query().Get("action"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	resource, err := ParseResource(r.URL.Query().Get("resource"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	perm, err := h.service.GetPermissionByActionAndResource(r.Context(), action, resource, ident.TenantID)
	if err != nil {
		h.fail(w, "lookup permission", err)
		return
	}
	if perm == nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponse(*perm))
}

type createPermissionPayload struct {
	Action      string `json:"action" validate:"required"`
	Resource    string `json:"resource" validate:"required"`
	Description string `json:"description" validate:"max=500"`
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var payload createPermissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		httpx.ValidationProblem(w, fields)
		return
	}
	action, err := ParseAction(payload.Action)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	resource, err := ParseResource(payload.Resource)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), CreatePermissionParams{
		TenantID:    ident.TenantID,
		Action:      action,
		Resource:    resource,
		Description: payload.Description,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "this action/resource pair already exists")
			return
		}
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPermissionResponse(perm))
}

type updatePermissionPayload struct {
	Description string `json:"description" validate:"max=500"`
	IsActive    bool   `json:"is_active"`
}

func (h *PermissionsHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	permissionID, err := uuid.Parse(chi.URLParam(r, "permissionID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid permission id")
		return
	}
	var payload updatePermissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		httpx.ValidationProblem(w, fields)
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), UpdatePermissionParams{
		ID:          permissionID,
		TenantID:    ident.TenantID,
		Description: payload.Description,
		IsActive:    payload.IsActive,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.fail(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponse(perm))
}

func (h *PermissionsHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
