package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/courtside-hq/courtside/internal/platform/httpx"
	"github.com/courtside-hq/courtside/internal/shared"
)

// DecisionRecorder observes the outcome of each authorization gate.
// Implemented by observability.AuthzDecisions; nil disables recording.
type DecisionRecorder interface {
	Record(outcome string)
}

// Gate outcomes reported to the decision recorder.
const (
	DecisionAllowed         = "allowed"
	DecisionUnauthenticated = "unauthenticated"
	DecisionForbidden       = "forbidden"
	DecisionError           = "error"
)

// Middleware wires the authorization gates for HTTP handlers. Each gate
// either enriches the context with the caller's identity and calls through,
// or terminates the chain with one of exactly two rejection kinds:
// unauthenticated (no identity) or forbidden (insufficient privilege).
type Middleware struct {
	Service   *Service
	Logger    *slog.Logger
	Decisions DecisionRecorder
}

// RequireAuthenticated rejects callers without an authenticated identity.
// A pass-through here is not an authorization grant, so only rejections are
// recorded; allowed decisions come from the terminal gates.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := shared.CurrentIdentity(r.Context())
		if !ok {
			m.reject(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), ident)))
	})
}

// RequireTenantMember admits tenant admins and staff of the session tenant,
// plus system administrators acting inside a tenant.
func (m Middleware) RequireTenantMember(next http.Handler) http.Handler {
	return m.requireTenantTier(next, func(ctx context.Context, ident shared.Identity) (bool, error) {
		member, err := m.Service.IsTenantMember(ctx, ident.UserID, ident.TenantID)
		if err != nil || member {
			return member, err
		}
		return m.isPlatformAdmin(ctx, ident)
	})
}

// RequireTenantAdmin admits tenant admins of the session tenant, plus system
// administrators acting inside a tenant.
func (m Middleware) RequireTenantAdmin(next http.Handler) http.Handler {
	return m.requireTenantTier(next, func(ctx context.Context, ident shared.Identity) (bool, error) {
		admin, err := m.Service.IsTenantAdmin(ctx, ident.UserID, ident.TenantID)
		if err != nil || admin {
			return admin, err
		}
		return m.isPlatformAdmin(ctx, ident)
	})
}

// isPlatformAdmin checks sys_admin against the platform scope (nil tenant),
// which is where the role lives regardless of the session tenant.
func (m Middleware) isPlatformAdmin(ctx context.Context, ident shared.Identity) (bool, error) {
	return m.Service.IsSysAdmin(ctx, ident.UserID, uuid.Nil)
}

// RequireSysAdmin admits only system administrators. The check always runs
// against the platform scope, so no tenant association is required.
func (m Middleware) RequireSysAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := shared.CurrentIdentity(r.Context())
		if !ok {
			m.reject(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ok, err := m.isPlatformAdmin(r.Context(), ident)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		if !ok {
			m.reject(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		m.record(DecisionAllowed)
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), ident)))
	})
}

// RequirePermission gates on a single (action, resource) pair, with MANAGE
// subsumption applied.
func (m Middleware) RequirePermission(action Action, resource Resource) func(http.Handler) http.Handler {
	return m.RequireAnyPermission(Check{Action: action, Resource: resource})
}

// RequireAnyPermission gates on at least one of the checks passing.
func (m Middleware) RequireAnyPermission(checks ...Check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := shared.CurrentIdentity(r.Context())
			if !ok {
				m.reject(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !ident.HasTenant() {
				m.reject(w, http.StatusForbidden, "no tenant associated with session")
				return
			}
			allowed, err := m.Service.HasAnyPermission(r.Context(), ident.UserID, checks, ident.TenantID)
			if err != nil {
				m.fail(w, r, err)
				return
			}
			if !allowed {
				m.reject(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			m.record(DecisionAllowed)
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), ident)))
		})
	}
}

func (m Middleware) requireTenantTier(next http.Handler, check func(context.Context, shared.Identity) (bool, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := shared.CurrentIdentity(r.Context())
		if !ok {
			m.reject(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !ident.HasTenant() {
			m.reject(w, http.StatusForbidden, "no tenant associated with session")
			return
		}
		allowed, err := check(r.Context(), ident)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		if !allowed {
			m.reject(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		m.record(DecisionAllowed)
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), ident)))
	})
}

func (m Middleware) reject(w http.ResponseWriter, status int, detail string) {
	if status == http.StatusUnauthorized {
		m.record(DecisionUnauthenticated)
		httpx.Problem(w, status, "Unauthorized", detail)
		return
	}
	m.record(DecisionForbidden)
	httpx.Problem(w, status, "Forbidden", detail)
}

func (m Middleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	m.record(DecisionError)
	if m.Logger != nil {
		m.Logger.Error("authorization check", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func (m Middleware) record(outcome string) {
	if m.Decisions != nil {
		m.Decisions.Record(outcome)
	}
}
