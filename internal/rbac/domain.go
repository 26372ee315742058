package rbac

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action enumerates the operations a permission can grant on a resource.
type Action string

// Permission actions. Manage subsumes every other action on the same resource.
const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionManage Action = "MANAGE"
)

// Resource enumerates the domain nouns permissions apply to.
type Resource string

// Permission resources.
const (
	ResourceUser        Resource = "USER"
	ResourceRole        Resource = "ROLE"
	ResourcePermission  Resource = "PERMISSION"
	ResourceAdmin       Resource = "ADMIN"
	ResourceSportCenter Resource = "SPORT_CENTER"
	ResourceField       Resource = "FIELD"
	ResourceReservation Resource = "RESERVATION"
	ResourceTenant      Resource = "TENANT"
	ResourceStaff       Resource = "STAFF"
	ResourceMetrics     Resource = "METRICS"
	ResourceSettings    Resource = "SETTINGS"
	ResourcePayment     Resource = "PAYMENT"
	ResourceDashboard   Resource = "DASHBOARD"
)

// Well-known role names. These are seed data conventions, not a closed set:
// tenants may define additional roles with arbitrary names.
const (
	RoleSysAdmin    = "sys_admin"
	RoleTenantAdmin = "tenant_admin"
	RoleTenantStaff = "tenant_staff"
	RoleClient      = "client"
)

var validActions = map[Action]struct{}{
	ActionCreate: {}, ActionRead: {}, ActionUpdate: {}, ActionDelete: {}, ActionManage: {},
}

var validResources = map[Resource]struct{}{
	ResourceUser: {}, ResourceRole: {}, ResourcePermission: {}, ResourceAdmin: {},
	ResourceSportCenter: {}, ResourceField: {}, ResourceReservation: {}, ResourceTenant: {},
	ResourceStaff: {}, ResourceMetrics: {}, ResourceSettings: {}, ResourcePayment: {},
	ResourceDashboard: {},
}

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	if _, ok := validActions[a]; !ok {
		return "", fmt.Errorf("rbac: unknown action %q", raw)
	}
	return a, nil
}

// ParseResource validates a raw resource string.
func ParseResource(raw string) (Resource, error) {
	r := Resource(raw)
	if _, ok := validResources[r]; !ok {
		return "", fmt.Errorf("rbac: unknown resource %q", raw)
	}
	return r, nil
}

// Role is a named, tenant-scoped bundle of permissions.
type Role struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	DisplayName string
	Description string
	IsActive    bool
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a single grantable (action, resource) capability within a tenant.
type Permission struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Action      Action
	Resource    Resource
	Description string
	IsActive    bool
}

// UserRole grants a role to a user, optionally until ExpiresAt.
type UserRole struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	RoleID     uuid.UUID
	AssignedAt time.Time
	AssignedBy string
	ExpiresAt  *time.Time
}

// ExpiredAt reports whether the assignment no longer grants anything at the
// given instant. An assignment expiring exactly now is already expired.
func (ur UserRole) ExpiredAt(now time.Time) bool {
	return ur.ExpiresAt != nil && !ur.ExpiresAt.After(now)
}

// Grants is the resolved role and permission set for one (user, tenant) pair.
// It is recomputed on every check and never persisted.
type Grants struct {
	Roles       []Role
	Permissions []Permission
}

// Check names one (action, resource) pair for batch permission checks.
type Check struct {
	Action   Action
	Resource Resource
}

// RoleGrant pairs a role reachable through a non-expired assignment with the
// permission rows attached to it, before activity filtering.
type RoleGrant struct {
	Role        Role
	Permissions []Permission
}

// CreateRoleParams carries fields for inserting a role.
type CreateRoleParams struct {
	TenantID    uuid.UUID
	Name        string
	DisplayName string
	Description string
	IsSystem    bool
}

// UpdateRoleParams carries fields for updating a role, scoped to a tenant.
type UpdateRoleParams struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	DisplayName string
	Description string
	IsActive    bool
}

// CreatePermissionParams carries fields for inserting a permission.
type CreatePermissionParams struct {
	TenantID    uuid.UUID
	Action      Action
	Resource    Resource
	Description string
}

// UpdatePermissionParams carries the mutable permission fields, scoped to a
// tenant. Action and resource form the permission's identity and never change.
type UpdatePermissionParams struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Description string
	IsActive    bool
}

// AssignRoleParams carries fields for granting a role to a user. TenantID
// scopes the grant: the role must belong to this tenant.
type AssignRoleParams struct {
	UserID     uuid.UUID
	RoleID     uuid.UUID
	TenantID   uuid.UUID
	AssignedBy string
	ExpiresAt  *time.Time
}
