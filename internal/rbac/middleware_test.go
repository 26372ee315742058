package rbac_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/courtside-hq/courtside/internal/rbac"
	"github.com/courtside-hq/courtside/internal/shared"
	_ "github.com/courtside-hq/courtside/testing"
)

// decisionLog counts gate outcomes, standing in for the Prometheus recorder.
type decisionLog struct {
	counts map[string]int
}

func newDecisionLog() *decisionLog {
	return &decisionLog{counts: make(map[string]int)}
}

func (d *decisionLog) Record(outcome string) { d.counts[outcome]++ }

type mwFixture struct {
	*fixture
	mw        rbac.Middleware
	decisions *decisionLog
	sessions  *shared.SessionManager
}

func newMiddlewareFixture(t *testing.T) *mwFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	f := newFixture(t)
	decisions := newDecisionLog()
	return &mwFixture{
		fixture: f,
		mw: rbac.Middleware{
			Service:   f.service,
			Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
			Decisions: decisions,
		},
		decisions: decisions,
		sessions:  shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false),
	}
}

// request returns a GET request carrying a fresh session for the user. A nil
// user id yields an anonymous session; a nil tenant id leaves the session
// without a tenant association.
func (f *mwFixture) request(t *testing.T, userID, tenantID uuid.UUID) *http.Request {
	t.Helper()
	return f.newRequest(t, http.MethodGet, "/admin", "", userID, tenantID)
}

func (f *mwFixture) newRequest(t *testing.T, method, target, body string, userID, tenantID uuid.UUID) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	sess, err := f.sessions.Load(req.Context(), req)
	require.NoError(t, err)
	if userID != uuid.Nil {
		sess.SetUser(userID.String())
	}
	if tenantID != uuid.Nil {
		sess.SetTenant(tenantID.String())
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

// serve runs the gated handler and reports the response plus the identity the
// gate forwarded to the inner handler, if it reached it.
func serve(gate func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *shared.Identity) {
	var forwarded *shared.Identity
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ident, ok := shared.IdentityFromContext(r.Context()); ok {
			forwarded = &ident
		}
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	gate(inner).ServeHTTP(rec, req)
	return rec, forwarded
}

func TestGatesRejectAnonymous(t *testing.T) {
	f := newMiddlewareFixture(t)

	gates := map[string]func(http.Handler) http.Handler{
		"RequireAuthenticated": f.mw.RequireAuthenticated,
		"RequireTenantMember":  f.mw.RequireTenantMember,
		"RequireTenantAdmin":   f.mw.RequireTenantAdmin,
		"RequireSysAdmin":      f.mw.RequireSysAdmin,
		"RequirePermission":    f.mw.RequirePermission(rbac.ActionRead, rbac.ResourceField),
	}
	for name, gate := range gates {
		t.Run(name, func(t *testing.T) {
			rec, forwarded := serve(gate, f.request(t, uuid.Nil, uuid.Nil))
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Nil(t, forwarded)
		})
	}
	require.Equal(t, len(gates), f.decisions.counts[rbac.DecisionUnauthenticated])
}

func TestRequireAuthenticatedForwardsIdentity(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := uuid.New()
	tenant := uuid.New()

	rec, forwarded := serve(f.mw.RequireAuthenticated, f.request(t, user, tenant))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, forwarded)
	require.Equal(t, user, forwarded.UserID)
	require.Equal(t, tenant, forwarded.TenantID)
}

// Authentication pass-throughs are not authorization grants: only the
// terminal gates contribute to the allowed count.
func TestAllowedDecisionsCountTerminalGatesOnly(t *testing.T) {
	f := newMiddlewareFixture(t)
	tenant := uuid.New()
	admin := uuid.New()

	adminRole := f.mustRole(t, tenant, rbac.RoleTenantAdmin)
	f.mustAssign(t, admin, adminRole.ID, nil)

	rec, _ := serve(f.mw.RequireAuthenticated, f.request(t, admin, tenant))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, f.decisions.counts[rbac.DecisionAllowed])

	rec, _ = serve(f.mw.RequireTenantAdmin, f.request(t, admin, tenant))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.decisions.counts[rbac.DecisionAllowed])
}

func TestTenantTierGates(t *testing.T) {
	f := newMiddlewareFixture(t)
	tenant := uuid.New()

	admin := uuid.New()
	staff := uuid.New()
	client := uuid.New()
	adminRole := f.mustRole(t, tenant, rbac.RoleTenantAdmin)
	staffRole := f.mustRole(t, tenant, rbac.RoleTenantStaff)
	clientRole := f.mustRole(t, tenant, rbac.RoleClient)
	f.mustAssign(t, admin, adminRole.ID, nil)
	f.mustAssign(t, staff, staffRole.ID, nil)
	f.mustAssign(t, client, clientRole.ID, nil)

	cases := []struct {
		name string
		gate func(http.Handler) http.Handler
		want map[uuid.UUID]int
	}{
		{
			name: "RequireTenantMember",
			gate: f.mw.RequireTenantMember,
			want: map[uuid.UUID]int{admin: http.StatusOK, staff: http.StatusOK, client: http.StatusForbidden},
		},
		{
			name: "RequireTenantAdmin",
			gate: f.mw.RequireTenantAdmin,
			want: map[uuid.UUID]int{admin: http.StatusOK, staff: http.StatusForbidden, client: http.StatusForbidden},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for userID, want := range tc.want {
				rec, _ := serve(tc.gate, f.request(t, userID, tenant))
				require.Equal(t, want, rec.Code)
			}
		})
	}
}

func TestTenantGatesRequireTenantSession(t *testing.T) {
	f := newMiddlewareFixture(t)
	tenant := uuid.New()
	user := uuid.New()

	role := f.mustRole(t, tenant, rbac.RoleTenantAdmin)
	f.mustAssign(t, user, role.ID, nil)

	// Authenticated but the session carries no tenant.
	for name, gate := range map[string]func(http.Handler) http.Handler{
		"RequireTenantMember": f.mw.RequireTenantMember,
		"RequireTenantAdmin":  f.mw.RequireTenantAdmin,
		"RequirePermission":   f.mw.RequirePermission(rbac.ActionRead, rbac.ResourceField),
	} {
		t.Run(name, func(t *testing.T) {
			rec, _ := serve(gate, f.request(t, user, uuid.Nil))
			require.Equal(t, http.StatusForbidden, rec.Code)
			require.Contains(t, rec.Body.String(), "no tenant associated with session")
		})
	}
}

func TestSysAdminPassesAllGates(t *testing.T) {
	f := newMiddlewareFixture(t)
	ctx := context.Background()
	operator := uuid.New()
	tenant := uuid.New()

	sysRole, err := f.store.CreateRole(ctx, rbac.CreateRoleParams{
		TenantID: uuid.Nil, Name: rbac.RoleSysAdmin, IsSystem: true,
	})
	require.NoError(t, err)
	f.mustAssign(t, operator, sysRole.ID, nil)

	// RequireSysAdmin needs no tenant association at all.
	rec, _ := serve(f.mw.RequireSysAdmin, f.request(t, operator, uuid.Nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Inside a tenant the platform role substitutes for tenant tiers even
	// though the operator holds no role there.
	rec, _ = serve(f.mw.RequireTenantMember, f.request(t, operator, tenant))
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = serve(f.mw.RequireTenantAdmin, f.request(t, operator, tenant))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSysAdminGateForbidsTenantAdmin(t *testing.T) {
	f := newMiddlewareFixture(t)
	tenant := uuid.New()
	admin := uuid.New()

	role := f.mustRole(t, tenant, rbac.RoleTenantAdmin)
	f.mustAssign(t, admin, role.ID, nil)

	rec, _ := serve(f.mw.RequireSysAdmin, f.request(t, admin, tenant))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, 1, f.decisions.counts[rbac.DecisionForbidden])
}

func TestRequirePermissionSubsumesManage(t *testing.T) {
	f := newMiddlewareFixture(t)
	tenant := uuid.New()
	manager := uuid.New()
	reader := uuid.New()

	managerRole := f.mustRole(t, tenant, rbac.RoleTenantAdmin)
	f.mustGrant(t, managerRole.ID, f.mustPermission(t, tenant, rbac.ActionManage, rbac.ResourceField).ID)
	f.mustAssign(t, manager, managerRole.ID, nil)

	readerRole := f.mustRole(t, tenant, rbac.RoleTenantStaff)
	f.mustGrant(t, readerRole.ID, f.mustPermission(t, tenant, rbac.ActionRead, rbac.ResourceField).ID)
	f.mustAssign(t, reader, readerRole.ID, nil)

	gate := f.mw.RequirePermission(rbac.ActionDelete, rbac.ResourceField)

	rec, forwarded := serve(gate, f.request(t, manager, tenant))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, forwarded)
	require.Equal(t, manager, forwarded.UserID)

	rec, _ = serve(gate, f.request(t, reader, tenant))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAnyPermission(t *testing.T) {
	f := newMiddlewareFixture(t)
	tenant := uuid.New()
	user := uuid.New()

	role := f.mustRole(t, tenant, rbac.RoleTenantStaff)
	f.mustGrant(t, role.ID, f.mustPermission(t, tenant, rbac.ActionRead, rbac.ResourceDashboard).ID)
	f.mustAssign(t, user, role.ID, nil)

	gate := f.mw.RequireAnyPermission(
		rbac.Check{Action: rbac.ActionManage, Resource: rbac.ResourceSettings},
		rbac.Check{Action: rbac.ActionRead, Resource: rbac.ResourceDashboard},
	)
	rec, _ := serve(gate, f.request(t, user, tenant))
	require.Equal(t, http.StatusOK, rec.Code)

	gate = f.mw.RequireAnyPermission(
		rbac.Check{Action: rbac.ActionManage, Resource: rbac.ResourceSettings},
		rbac.Check{Action: rbac.ActionManage, Resource: rbac.ResourcePayment},
	)
	rec, _ = serve(gate, f.request(t, user, tenant))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStoreFailureIsServerError(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.store.failWith = errors.New("connection refused")

	rec, _ := serve(f.mw.RequireTenantAdmin, f.request(t, uuid.New(), uuid.New()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, f.decisions.counts[rbac.DecisionError])
}
