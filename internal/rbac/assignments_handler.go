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

// AssignmentsHandler manages user-role assignments and exposes the resolved
// grant set for a user.
type AssignmentsHandler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	mw       Middleware
	audit    *shared.AuditLogger
}

// NewAssignmentsHandler builds AssignmentsHandler instance. The audit logger
// may be nil, in which case grant changes are not recorded.
func NewAssignmentsHandler(logger *slog.Logger, service *Service, mw Middleware, audit *shared.AuditLogger) *AssignmentsHandler {
	return &AssignmentsHandler{logger: logger, service: service, validate: validator.New(), mw: mw, audit: audit}
}

// MountRoutes registers assignment routes under /users.
func (h *AssignmentsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireTenantMember)
		r.Get("/{userID}/grants", h.userGrants)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireTenantAdmin)
		r.Post("/{userID}/roles", h.assignRole)
		r.Delete("/{userID}/roles/{roleID}", h.removeRole)
	})
}

type assignRolePayload struct {
	RoleID     string     `json:"role_id" validate:"required,uuid"`
	AssignedBy string     `json:"assigned_by" validate:"max=200"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type assignmentResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (h *AssignmentsHandler) assignRole(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	var payload assignRolePayload
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
	roleID, err := uuid.Parse(payload.RoleID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	assignedBy := payload.AssignedBy
	if assignedBy == "" {
		assignedBy = ident.UserID.String()
	}
	assignment, err := h.service.AssignRole(r.Context(), AssignRoleParams{
		UserID:     userID,
		RoleID:     roleID,
		TenantID:   ident.TenantID,
		AssignedBy: assignedBy,
		ExpiresAt:  payload.ExpiresAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			httpx.Problem(w, http.StatusConflict, "Conflict", "role already assigned to user")
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", "user or role does not exist")
		default:
			h.fail(w, "assign role", err)
		}
		return
	}
	h.recordAudit(r, "rbac.role_assigned", userID, map[string]any{"role_id": roleID.String()})
	httpx.JSON(w, http.StatusCreated, assignmentResponse{
		ID:         assignment.ID.String(),
		UserID:     assignment.UserID.String(),
		RoleID:     assignment.RoleID.String(),
		AssignedAt: assignment.AssignedAt,
		AssignedBy: assignment.AssignedBy,
		ExpiresAt:  assignment.ExpiresAt,
	})
}

// removeRole revokes an assignment. Revoking one that does not exist still
// returns 204: removal is idempotent. The revocation is scoped to the session
// tenant, so assignments on another tenant's roles are out of reach.
func (h *AssignmentsHandler) removeRole(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, roleID, ident.TenantID); err != nil {
		h.fail(w, "remove role", err)
		return
	}
	h.recordAudit(r, "rbac.role_revoked", userID, map[string]any{"role_id": roleID.String()})
	w.WriteHeader(http.StatusNoContent)
}

// recordAudit persists a grant-change event. Failures are logged, never
// surfaced: auditing must not block the mutation that already happened.
func (h *AssignmentsHandler) recordAudit(r *http.Request, action string, subjectID uuid.UUID, meta map[string]any) {
	if h.audit == nil {
		return
	}
	var actorID uuid.UUID
	if ident, ok := shared.IdentityFromContext(r.Context()); ok {
		actorID = ident.UserID
	}
	err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: subjectID.String(),
		Meta:     meta,
	})
	if err != nil && h.logger != nil {
		h.logger.Warn("record audit", slog.Any("error", err))
	}
}

// userGrants returns the caller-visible resolution for a user in the session
// tenant: active roles plus the deduplicated effective permission set.
func (h *AssignmentsHandler) userGrants(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	grants, err := h.service.ResolveGrants(r.Context(), userID, ident.TenantID)
	if err != nil {
		h.fail(w, "resolve grants", err)
		return
	}
	roles := make([]roleResponse, 0, len(grants.Roles))
	for _, role := range grants.Roles {
		roles = append(roles, toRoleResponse(role))
	}
	perms := make([]permissionResponse, 0, len(grants.Permissions))
	for _, perm := range grants.Permissions {
		perms = append(perms, toPermissionResponse(perm))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles, "permissions": perms})
}

func (h *AssignmentsHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
