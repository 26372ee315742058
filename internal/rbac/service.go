package rbac

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrAlreadyExists indicates a uniqueness conflict (duplicate role name,
// permission pair, or role assignment) within a tenant.
var ErrAlreadyExists = errors.New("rbac: already exists")

// Store is the persistence port the service resolves and administers through.
// Every query is tenant-scoped; the expiry filter is evaluated against the
// instant passed in, never against a stored snapshot.
type Store interface {
	// UserRoleGrants returns the roles reachable through the user's
	// non-expired assignments in the tenant, each with its attached
	// permission rows. Inactive roles and permissions are included; the
	// service filters them.
	UserRoleGrants(ctx context.Context, userID, tenantID uuid.UUID, now time.Time) ([]RoleGrant, error)

	CreateRole(ctx context.Context, params CreateRoleParams) (Role, error)
	UpdateRole(ctx context.Context, params UpdateRoleParams) (Role, error)
	DeleteRole(ctx context.Context, id, tenantID uuid.UUID) error
	ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error)
	GetRoleByName(ctx context.Context, name string, tenantID uuid.UUID) (*Role, error)

	CreatePermission(ctx context.Context, params CreatePermissionParams) (Permission, error)
	UpdatePermission(ctx context.Context, params UpdatePermissionParams) (Permission, error)
	ListPermissions(ctx context.Context, tenantID uuid.UUID) ([]Permission, error)
	GetPermissionByActionAndResource(ctx context.Context, action Action, resource Resource, tenantID uuid.UUID) (*Permission, error)
	ListRolePermissions(ctx context.Context, roleID, tenantID uuid.UUID) ([]Permission, error)

	AttachPermissionToRole(ctx context.Context, roleID, permissionID, tenantID uuid.UUID) error
	DetachPermissionFromRole(ctx context.Context, roleID, permissionID, tenantID uuid.UUID) error
	AssignRoleToUser(ctx context.Context, params AssignRoleParams) (UserRole, error)
	RemoveRoleFromUser(ctx context.Context, userID, roleID, tenantID uuid.UUID) error
	ListExpiringAssignments(ctx context.Context, from, until time.Time) ([]UserRole, error)
}

// Service orchestrates permission resolution, access checks and
// role/permission administration. It is stateless: every check re-resolves
// against the store, so concurrent requests never observe each other.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the time source. Tests use it to cross expiry
// boundaries without sleeping.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ResolveGrants computes the active roles and deduplicated active permissions
// the user holds within the tenant at this moment. Results carry no ordering
// contract. A nil tenant id is the sentinel used by callers without a tenant
// context; it matches no rows and resolves to empty grants.
func (s *Service) ResolveGrants(ctx context.Context, userID, tenantID uuid.UUID) (Grants, error) {
	if userID == uuid.Nil {
		return Grants{}, errors.New("rbac: user id required")
	}
	rows, err := s.store.UserRoleGrants(ctx, userID, tenantID, s.now())
	if err != nil {
		return Grants{}, err
	}

	var grants Grants
	seen := make(map[uuid.UUID]struct{})
	for _, row := range rows {
		if !row.Role.IsActive {
			continue
		}
		grants.Roles = append(grants.Roles, row.Role)
		for _, perm := range row.Permissions {
			if !perm.IsActive {
				continue
			}
			if _, ok := seen[perm.ID]; ok {
				continue
			}
			seen[perm.ID] = struct{}{}
			grants.Permissions = append(grants.Permissions, perm)
		}
	}
	return grants, nil
}

// GetUserPermissions returns the user's effective permission set in the tenant.
func (s *Service) GetUserPermissions(ctx context.Context, userID, tenantID uuid.UUID) ([]Permission, error) {
	grants, err := s.ResolveGrants(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	return grants.Permissions, nil
}

// GetUserRoles returns the user's active, non-expired roles in the tenant.
func (s *Service) GetUserRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]Role, error) {
	grants, err := s.ResolveGrants(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	return grants.Roles, nil
}

// HasPermission reports whether the user holds (action, resource) in the
// tenant, either directly or through MANAGE on the same resource. A denial is
// a false return, never an error.
func (s *Service) HasPermission(ctx context.Context, userID uuid.UUID, action Action, resource Resource, tenantID uuid.UUID) (bool, error) {
	grants, err := s.ResolveGrants(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	return grantsPermit(grants.Permissions, action, resource), nil
}

// HasPermissionOrManage is an alias of HasPermission kept for call-site
// clarity: MANAGE subsumption is always applied.
func (s *Service) HasPermissionOrManage(ctx context.Context, userID uuid.UUID, action Action, resource Resource, tenantID uuid.UUID) (bool, error) {
	return s.HasPermission(ctx, userID, action, resource, tenantID)
}

// HasAnyPermission reports whether at least one of the checks passes.
func (s *Service) HasAnyPermission(ctx context.Context, userID uuid.UUID, checks []Check, tenantID uuid.UUID) (bool, error) {
	grants, err := s.ResolveGrants(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	for _, c := range checks {
		if grantsPermit(grants.Permissions, c.Action, c.Resource) {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether every check passes.
func (s *Service) HasAllPermissions(ctx context.Context, userID uuid.UUID, checks []Check, tenantID uuid.UUID) (bool, error) {
	grants, err := s.ResolveGrants(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	for _, c := range checks {
		if !grantsPermit(grants.Permissions, c.Action, c.Resource) {
			return false, nil
		}
	}
	return true, nil
}

// HasRole reports whether the user holds an active role with the exact name
// in the tenant. Comparison is case-sensitive.
func (s *Service) HasRole(ctx context.Context, userID uuid.UUID, roleName string, tenantID uuid.UUID) (bool, error) {
	grants, err := s.ResolveGrants(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	for _, role := range grants.Roles {
		if role.Name == roleName {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyRole reports whether the user's active role set intersects roleNames.
func (s *Service) HasAnyRole(ctx context.Context, userID uuid.UUID, roleNames []string, tenantID uuid.UUID) (bool, error) {
	grants, err := s.ResolveGrants(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	names := make(map[string]struct{}, len(roleNames))
	for _, n := range roleNames {
		names[n] = struct{}{}
	}
	for _, role := range grants.Roles {
		if _, ok := names[role.Name]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Role-tier checks built from the well-known role names.

// IsSysAdmin reports whether the user holds the sys_admin role in the tenant.
func (s *Service) IsSysAdmin(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasRole(ctx, userID, RoleSysAdmin, tenantID)
}

// IsTenantAdmin reports whether the user holds the tenant_admin role.
func (s *Service) IsTenantAdmin(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasRole(ctx, userID, RoleTenantAdmin, tenantID)
}

// IsTenantStaff reports whether the user holds the tenant_staff role.
func (s *Service) IsTenantStaff(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasRole(ctx, userID, RoleTenantStaff, tenantID)
}

// IsClient reports whether the user holds the client role.
func (s *Service) IsClient(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasRole(ctx, userID, RoleClient, tenantID)
}

// IsTenantMember reports whether the user is tenant admin or staff.
func (s *Service) IsTenantMember(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasAnyRole(ctx, userID, []string{RoleTenantAdmin, RoleTenantStaff}, tenantID)
}

// IsAdmin reports whether the user is a system or tenant administrator.
// Kept for compatibility with older call sites.
func (s *Service) IsAdmin(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasAnyRole(ctx, userID, []string{RoleSysAdmin, RoleTenantAdmin}, tenantID)
}

// Resource-tier convenience checks.

// CanManageUsers reports MANAGE on USER.
func (s *Service) CanManageUsers(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasPermission(ctx, userID, ActionManage, ResourceUser, tenantID)
}

// CanManageRoles reports MANAGE on ROLE.
func (s *Service) CanManageRoles(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasPermission(ctx, userID, ActionManage, ResourceRole, tenantID)
}

// CanAccessAdmin reports MANAGE on ADMIN.
func (s *Service) CanAccessAdmin(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasPermission(ctx, userID, ActionManage, ResourceAdmin, tenantID)
}

// CanViewDashboard reports READ on DASHBOARD.
func (s *Service) CanViewDashboard(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return s.HasPermission(ctx, userID, ActionRead, ResourceDashboard, tenantID)
}

// Administration

// CreateRole inserts a role in the tenant. A duplicate (tenant, name) pair
// surfaces as ErrAlreadyExists from the store.
func (s *Service) CreateRole(ctx context.Context, params CreateRoleParams) (Role, error) {
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	if params.TenantID == uuid.Nil {
		return Role{}, errors.New("rbac: tenant id required")
	}
	if params.DisplayName == "" {
		params.DisplayName = params.Name
	}
	return s.store.CreateRole(ctx, params)
}

// UpdateRole updates a role by id within the tenant. A role belonging to a
// different tenant matches zero rows and returns ErrNotFound.
func (s *Service) UpdateRole(ctx context.Context, params UpdateRoleParams) (Role, error) {
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.store.UpdateRole(ctx, params)
}

// DeleteRole removes a role by id within the tenant. System roles are
// protected from deletion. Attached role_permissions and user_roles rows are
// removed by the store's cascade.
func (s *Service) DeleteRole(ctx context.Context, id, tenantID uuid.UUID) error {
	return s.store.DeleteRole(ctx, id, tenantID)
}

// CreatePermission inserts a permission. The (action, resource, tenant)
// triple is unique; duplicates surface as ErrAlreadyExists.
func (s *Service) CreatePermission(ctx context.Context, params CreatePermissionParams) (Permission, error) {
	if _, err := ParseAction(string(params.Action)); err != nil {
		return Permission{}, err
	}
	if _, err := ParseResource(string(params.Resource)); err != nil {
		return Permission{}, err
	}
	if params.TenantID == uuid.Nil {
		return Permission{}, errors.New("rbac: tenant id required")
	}
	return s.store.CreatePermission(ctx, params)
}

// UpdatePermission rewrites a permission's description and activity flag
// within the tenant. The action/resource pair is immutable; deactivating a
// permission removes it from resolution without touching role attachments.
func (s *Service) UpdatePermission(ctx context.Context, params UpdatePermissionParams) (Permission, error) {
	return s.store.UpdatePermission(ctx, params)
}

// AssignPermissionToRole links a permission to a role within the tenant. A
// role or permission that does not exist, or is owned by a different tenant,
// reads as ErrNotFound.
func (s *Service) AssignPermissionToRole(ctx context.Context, roleID, permissionID, tenantID uuid.UUID) error {
	return s.store.AttachPermissionToRole(ctx, roleID, permissionID, tenantID)
}

// RemovePermissionFromRole unlinks a permission from a role within the
// tenant. A cross-tenant role id matches nothing and leaves the attachment
// intact.
func (s *Service) RemovePermissionFromRole(ctx context.Context, roleID, permissionID, tenantID uuid.UUID) error {
	return s.store.DetachPermissionFromRole(ctx, roleID, permissionID, tenantID)
}

// AssignRole grants a role to a user. The role must belong to TenantID; a
// cross-tenant role id reads as ErrNotFound. AssignedBy is free-text audit
// data; ExpiresAt nil means the grant never expires. A duplicate (user, role)
// pair fails with ErrAlreadyExists rather than duplicating the row.
func (s *Service) AssignRole(ctx context.Context, params AssignRoleParams) (UserRole, error) {
	if params.UserID == uuid.Nil || params.RoleID == uuid.Nil {
		return UserRole{}, errors.New("rbac: user id and role id required")
	}
	return s.store.AssignRoleToUser(ctx, params)
}

// RemoveRole revokes a role from a user within the tenant. Removing an
// assignment that does not exist is a no-op, not an error; an assignment to
// another tenant's role is untouchable from here.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID, tenantID uuid.UUID) error {
	return s.store.RemoveRoleFromUser(ctx, userID, roleID, tenantID)
}

// GetAllRoles lists the tenant's active roles ordered by name.
func (s *Service) GetAllRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	return s.store.ListRoles(ctx, tenantID)
}

// GetAllPermissions lists the tenant's active permissions ordered by resource
// then action.
func (s *Service) GetAllPermissions(ctx context.Context, tenantID uuid.UUID) ([]Permission, error) {
	return s.store.ListPermissions(ctx, tenantID)
}

// GetRolePermissions lists permissions attached to a role within the tenant.
func (s *Service) GetRolePermissions(ctx context.Context, roleID, tenantID uuid.UUID) ([]Permission, error) {
	return s.store.ListRolePermissions(ctx, roleID, tenantID)
}

// GetRoleByName fetches a role by exact name within the tenant. Returns
// (nil, nil) when absent.
func (s *Service) GetRoleByName(ctx context.Context, name string, tenantID uuid.UUID) (*Role, error) {
	return s.store.GetRoleByName(ctx, name, tenantID)
}

// GetPermissionByActionAndResource fetches a permission by its compound key.
// Returns (nil, nil) when absent.
func (s *Service) GetPermissionByActionAndResource(ctx context.Context, action Action, resource Resource, tenantID uuid.UUID) (*Permission, error) {
	return s.store.GetPermissionByActionAndResource(ctx, action, resource, tenantID)
}

// ListExpiringAssignments returns assignments whose expiry falls inside
// (from, until]. Used by the notification digest job; resolution semantics
// are unaffected.
func (s *Service) ListExpiringAssignments(ctx context.Context, from, until time.Time) ([]UserRole, error) {
	return s.store.ListExpiringAssignments(ctx, from, until)
}

// grantsPermit applies the central policy rule: an exact (action, resource)
// match permits, and MANAGE on the same resource permits any action on it.
// MANAGE never leaks across resources and no action substitutes for MANAGE.
func grantsPermit(perms []Permission, action Action, resource Resource) bool {
	for _, p := range perms {
		if p.Resource != resource {
			continue
		}
		if p.Action == action || p.Action == ActionManage {
			return true
		}
	}
	return false
}
