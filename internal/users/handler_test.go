package users_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/courtside-hq/courtside/internal/rbac"
	"github.com/courtside-hq/courtside/internal/shared"
	"github.com/courtside-hq/courtside/internal/users"
	_ "github.com/courtside-hq/courtside/testing"
)

// grantStore satisfies rbac.Store for the middleware path only; the embedded
// nil interface covers the methods the gates never call.
type grantStore struct {
	rbac.Store
	byUser map[uuid.UUID][]rbac.RoleGrant
}

func (s grantStore) UserRoleGrants(_ context.Context, userID, _ uuid.UUID, _ time.Time) ([]rbac.RoleGrant, error) {
	return s.byUser[userID], nil
}

type stubRepo struct {
	users map[uuid.UUID]users.User
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: make(map[uuid.UUID]users.User)}
}

func (r *stubRepo) ListUsers(_ context.Context, tenantID uuid.UUID) ([]users.User, error) {
	out := make([]users.User, 0)
	for _, u := range r.users {
		if u.TenantID == tenantID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *stubRepo) GetUser(_ context.Context, id, tenantID uuid.UUID) (*users.User, error) {
	u, ok := r.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, users.ErrNotFound
	}
	return &u, nil
}

func (r *stubRepo) CreateUser(_ context.Context, user users.User) (users.User, error) {
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return users.User{}, users.ErrEmailTaken
		}
	}
	user.CreatedAt = time.Now()
	r.users[user.ID] = user
	return user, nil
}

type fixture struct {
	router   chi.Router
	repo     *stubRepo
	sessions *shared.SessionManager
	tenant   uuid.UUID
	admin    uuid.UUID
	staff    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	tenant := uuid.New()
	admin := uuid.New()
	staff := uuid.New()
	store := grantStore{byUser: map[uuid.UUID][]rbac.RoleGrant{
		admin: {{
			Role: rbac.Role{ID: uuid.New(), TenantID: tenant, Name: rbac.RoleTenantAdmin, IsActive: true},
			Permissions: []rbac.Permission{{
				ID: uuid.New(), TenantID: tenant,
				Action: rbac.ActionManage, Resource: rbac.ResourceUser, IsActive: true,
			}},
		}},
		staff: {{
			Role: rbac.Role{ID: uuid.New(), TenantID: tenant, Name: rbac.RoleTenantStaff, IsActive: true},
		}},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newStubRepo()
	handler := users.NewHandler(logger, users.NewService(repo), rbac.Middleware{
		Service: rbac.NewService(store),
		Logger:  logger,
	})

	router := chi.NewRouter()
	router.Route("/users", handler.MountRoutes)

	return &fixture{
		router:   router,
		repo:     repo,
		sessions: shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false),
		tenant:   tenant,
		admin:    admin,
		staff:    staff,
	}
}

func (f *fixture) do(t *testing.T, method, target, body string, userID uuid.UUID) *httptest.ResponseRecorder {
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
		sess.SetTenant(f.tenant.String())
	}
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedUser(t *testing.T, tenantID uuid.UUID, email string) users.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := f.repo.CreateUser(context.Background(), users.User{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Email:        email,
		Name:         "Seeded User",
		PasswordHash: string(hash),
		IsActive:     true,
	})
	require.NoError(t, err)
	return user
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, f.tenant, "a@courtside.local")
	f.seedUser(t, uuid.New(), "other-tenant@courtside.local")

	rec := f.do(t, http.MethodGet, "/users/", "", f.staff)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Users []struct {
			Email string `json:"email"`
		} `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 1, "other tenants' users stay invisible")
	require.Equal(t, "a@courtside.local", resp.Users[0].Email)

	rec = f.do(t, http.MethodGet, "/users/", "", uuid.Nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	seeded := f.seedUser(t, f.tenant, "a@courtside.local")
	foreign := f.seedUser(t, uuid.New(), "b@courtside.local")

	rec := f.do(t, http.MethodGet, "/users/"+seeded.ID.String(), "", f.staff)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "a@courtside.local")
	require.NotContains(t, rec.Body.String(), "password", "hashes never leave the API")

	// A user from another tenant reads as not found, not forbidden.
	rec = f.do(t, http.MethodGet, "/users/"+foreign.ID.String(), "", f.staff)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)

	body := `{"email":"New@Courtside.Local","name":"New User","password":"password123"}`
	rec := f.do(t, http.MethodPost, "/users/", body, f.admin)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "new@courtside.local", resp.Email, "emails normalize to lowercase")

	id, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	stored, err := f.repo.GetUser(context.Background(), id, f.tenant)
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("password123")))

	t.Run("duplicate email conflicts", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/users/", body, f.admin)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("staff lacks MANAGE USER", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/users/", `{"email":"x@courtside.local","name":"X","password":"password123"}`, f.staff)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("short password rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/users/", `{"email":"y@courtside.local","name":"Y","password":"short"}`, f.admin)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "Password")
	})
}
