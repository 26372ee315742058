package rbac_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/courtside-hq/courtside/internal/rbac"
)

type rolesFixture struct {
	*mwFixture
	router chi.Router
	tenant uuid.UUID
	admin  uuid.UUID
	staff  uuid.UUID
}

func newRolesFixture(t *testing.T) *rolesFixture {
	t.Helper()
	f := newMiddlewareFixture(t)

	tenant := uuid.New()
	admin := uuid.New()
	staff := uuid.New()
	adminRole := f.mustRole(t, tenant, rbac.RoleTenantAdmin)
	staffRole := f.mustRole(t, tenant, rbac.RoleTenantStaff)
	f.mustAssign(t, admin, adminRole.ID, nil)
	f.mustAssign(t, staff, staffRole.ID, nil)

	handler := rbac.NewRolesHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.service, f.mw)
	router := chi.NewRouter()
	router.Route("/roles", handler.MountRoutes)

	return &rolesFixture{mwFixture: f, router: router, tenant: tenant, admin: admin, staff: staff}
}

func (f *rolesFixture) do(t *testing.T, method, target, body string, userID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, f.newRequest(t, method, target, body, userID, f.tenant))
	return rec
}

func TestListRolesAsMember(t *testing.T) {
	f := newRolesFixture(t)

	rec := f.do(t, http.MethodGet, "/roles", "", f.staff)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Roles []struct {
			Name string `json:"name"`
		} `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	names := make([]string, 0, len(resp.Roles))
	for _, role := range resp.Roles {
		names = append(names, role.Name)
	}
	require.ElementsMatch(t, []string{rbac.RoleTenantAdmin, rbac.RoleTenantStaff}, names)
}

func TestCreateRole(t *testing.T) {
	f := newRolesFixture(t)

	t.Run("admin creates", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/roles", `{"name":"front-desk","display_name":"Front Desk"}`, f.admin)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			DisplayName string `json:"display_name"`
			IsActive    bool   `json:"is_active"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "front-desk", resp.Name)
		require.Equal(t, "Front Desk", resp.DisplayName)
		require.True(t, resp.IsActive)
		_, err := uuid.Parse(resp.ID)
		require.NoError(t, err)
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/roles", `{"name":"front-desk"}`, f.admin)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("staff forbidden", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/roles", `{"name":"coach"}`, f.staff)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing name rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/roles", `{"display_name":"No Name"}`, f.admin)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "Name")
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/roles", `{`, f.admin)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateRole(t *testing.T) {
	f := newRolesFixture(t)
	role := f.mustRole(t, f.tenant, "seasonal")

	rec := f.do(t, http.MethodPut, "/roles/"+role.ID.String(), `{"name":"seasonal","is_active":false}`, f.admin)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		IsActive bool `json:"is_active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.IsActive)

	rec = f.do(t, http.MethodPut, "/roles/"+uuid.NewString(), `{"name":"ghost"}`, f.admin)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/roles/not-a-uuid", `{"name":"x"}`, f.admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRole(t *testing.T) {
	f := newRolesFixture(t)
	role := f.mustRole(t, f.tenant, "temporary")

	rec := f.do(t, http.MethodDelete, "/roles/"+role.ID.String(), "", f.admin)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/roles/"+role.ID.String(), "", f.admin)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/roles/"+uuid.NewString(), "", f.staff)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

// Attach and detach resolve the role inside the session tenant: ids pointing
// at another tenant's rows must not create or remove links there.
func TestRolePermissionAttachmentIsTenantScoped(t *testing.T) {
	f := newRolesFixture(t)
	otherTenant := uuid.New()
	foreignRole := f.mustRole(t, otherTenant, "manager")
	foreignPerm := f.mustPermission(t, otherTenant, rbac.ActionManage, rbac.ResourceUser)
	localPerm := f.mustPermission(t, f.tenant, rbac.ActionRead, rbac.ResourceField)

	body := fmt.Sprintf(`{"permission_id":%q}`, localPerm.ID.String())
	rec := f.do(t, http.MethodPost, "/roles/"+foreignRole.ID.String()+"/permissions", body, f.admin)
	require.Equal(t, http.StatusNotFound, rec.Code, "foreign role id reads as not found")

	localRole := f.mustRole(t, f.tenant, "front-desk")
	body = fmt.Sprintf(`{"permission_id":%q}`, foreignPerm.ID.String())
	rec = f.do(t, http.MethodPost, "/roles/"+localRole.ID.String()+"/permissions", body, f.admin)
	require.Equal(t, http.StatusNotFound, rec.Code, "foreign permission id reads as not found")

	f.mustGrant(t, foreignRole.ID, foreignPerm.ID)
	rec = f.do(t, http.MethodDelete, "/roles/"+foreignRole.ID.String()+"/permissions/"+foreignPerm.ID.String(), "", f.admin)
	require.Equal(t, http.StatusNoContent, rec.Code)

	perms, err := f.service.GetRolePermissions(context.Background(), foreignRole.ID, otherTenant)
	require.NoError(t, err)
	require.Len(t, perms, 1, "the foreign tenant's attachment survives")
}

func TestRolePermissionAttachment(t *testing.T) {
	f := newRolesFixture(t)
	role := f.mustRole(t, f.tenant, "front-desk")
	perm := f.mustPermission(t, f.tenant, rbac.ActionRead, rbac.ResourceField)

	body := fmt.Sprintf(`{"permission_id":%q}`, perm.ID.String())

	rec := f.do(t, http.MethodPost, "/roles/"+role.ID.String()+"/permissions", body, f.admin)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/roles/"+role.ID.String()+"/permissions", body, f.admin)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/roles/"+uuid.NewString()+"/permissions", body, f.admin)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/roles/"+role.ID.String()+"/permissions", "", f.staff)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), perm.ID.String())

	rec = f.do(t, http.MethodDelete, "/roles/"+role.ID.String()+"/permissions/"+perm.ID.String(), "", f.admin)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/roles/"+role.ID.String()+"/permissions", "", f.staff)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), perm.ID.String())
}
