package tenants

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/courtside-hq/courtside/internal/platform/httpx"
	"github.com/courtside-hq/courtside/internal/rbac"
)

// Handler manages tenant administration endpoints. All routes are
// sys-admin only.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	authz    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authz rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), authz: authz}
}

// MountRoutes registers tenant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireSysAdmin)
		r.Get("/", h.listTenants)
		r.Post("/", h.createTenant)
		r.Get("/{tenantID}", h.getTenant)
		r.Put("/{tenantID}/active", h.setActive)
	})
}

type tenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func toTenantResponse(t Tenant) tenantResponse {
	return tenantResponse{ID: t.ID.String(), Name: t.Name, IsActive: t.IsActive, CreatedAt: t.CreatedAt}
}

func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListTenants(r.Context())
	if err != nil {
		h.fail(w, "list tenants", err)
		return
	}
	out := make([]tenantResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTenantResponse(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tenants": out})
}

type createTenantPayload struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (h *Handler) createTenant(w http.ResponseWriter, r *http.Request) {
	var payload createTenantPayload
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
	tenant, err := h.service.CreateTenant(r.Context(), payload.Name)
	if err != nil {
		if errors.Is(err, ErrNameTaken) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "tenant name already in use")
			return
		}
		h.fail(w, "create tenant", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTenantResponse(tenant))
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid tenant id")
		return
	}
	tenant, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.fail(w, "get tenant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTenantResponse(*tenant))
}

type setActivePayload struct {
	IsActive bool `json:"is_active"`
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid tenant id")
		return
	}
	var payload setActivePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if err := h.service.SetTenantActive(r.Context(), id, payload.IsActive); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.fail(w, "set tenant active", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
