package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the RBAC store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, tenant_id, name, display_name, description, is_active, is_system, created_at, updated_at`

const permissionColumns = `id, tenant_id, action, resource, description, is_active`

// UserRoleGrants loads the user's non-expired role assignments in the tenant
// together with the permission rows attached to each role. Expiry is decided
// here against the instant passed in; activity filtering is the caller's job.
func (r *Repository) UserRoleGrants(ctx context.Context, userID, tenantID uuid.UUID, now time.Time) ([]RoleGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.tenant_id, r.name, r.display_name, r.description, r.is_active, r.is_system, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND r.tenant_id = $2
		  AND (ur.expires_at IS NULL OR ur.expires_at > $3)`,
		userID, tenantID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []RoleGrant
	var roleIDs []uuid.UUID
	for rows.Next() {
		var role Role
		if err := scanRole(rows, &role); err != nil {
			return nil, err
		}
		grants = append(grants, RoleGrant{Role: role})
		roleIDs = append(roleIDs, role.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, nil
	}

	permRows, err := r.pool.Query(ctx, `
		SELECT rp.role_id, p.id, p.tenant_id, p.action, p.resource, p.description, p.is_active
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1) AND p.tenant_id = $2`,
		roleIDs, tenantID)
	if err != nil {
		return nil, err
	}
	defer permRows.Close()

	byRole := make(map[uuid.UUID][]Permission, len(grants))
	for permRows.Next() {
		var roleID uuid.UUID
		var perm Permission
		if err := permRows.Scan(&roleID, &perm.ID, &perm.TenantID, &perm.Action, &perm.Resource, &perm.Description, &perm.IsActive); err != nil {
			return nil, err
		}
		byRole[roleID] = append(byRole[roleID], perm)
	}
	if err := permRows.Err(); err != nil {
		return nil, err
	}

	for i := range grants {
		grants[i].Permissions = byRole[grants[i].Role.ID]
	}
	return grants, nil
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, params CreateRoleParams) (Role, error) {
	var role Role
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (id, tenant_id, name, display_name, description, is_active, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, now(), now())
		RETURNING `+roleColumns,
		uuid.New(), params.TenantID, params.Name, params.DisplayName, params.Description, params.IsSystem)
	if err := scanRole(row, &role); err != nil {
		return Role{}, translateConstraint(err)
	}
	return role, nil
}

// UpdateRole updates a role by id scoped to the tenant. A role owned by a
// different tenant matches zero rows and reports ErrNotFound.
func (r *Repository) UpdateRole(ctx context.Context, params UpdateRoleParams) (Role, error) {
	var role Role
	row := r.pool.QueryRow(ctx, `
		UPDATE roles
		SET name = $3, display_name = $4, description = $5, is_active = $6, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+roleColumns,
		params.ID, params.TenantID, params.Name, params.DisplayName, params.Description, params.IsActive)
	if err := scanRole(row, &role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, translateConstraint(err)
	}
	return role, nil
}

// DeleteRole removes a non-system role scoped to the tenant. The schema
// cascades the delete into role_permissions and user_roles.
func (r *Repository) DeleteRole(ctx context.Context, id, tenantID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM roles WHERE id = $1 AND tenant_id = $2 AND is_system = FALSE`,
		id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRoles returns the tenant's active roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE tenant_id = $1 AND is_active ORDER BY name`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := scanRole(rows, &role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRoleByName fetches a role by exact name within the tenant.
func (r *Repository) GetRoleByName(ctx context.Context, name string, tenantID uuid.UUID) (*Role, error) {
	var role Role
	row := r.pool.QueryRow(ctx, `
		SELECT `+roleColumns+` FROM roles WHERE name = $1 AND tenant_id = $2`,
		name, tenantID)
	if err := scanRole(row, &role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &role, nil
}

// CreatePermission inserts a new permission.
func (r *Repository) CreatePermission(ctx context.Context, params CreatePermissionParams) (Permission, error) {
	var perm Permission
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (id, tenant_id, action, resource, description, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING `+permissionColumns,
		uuid.New(), params.TenantID, params.Action, params.Resource, params.Description)
	if err := scanPermission(row, &perm); err != nil {
		return Permission{}, translateConstraint(err)
	}
	return perm, nil
}

// UpdatePermission rewrites the mutable permission fields by id scoped to
// the tenant. A permission owned by a different tenant matches zero rows and
// reports ErrNotFound.
func (r *Repository) UpdatePermission(ctx context.Context, params UpdatePermissionParams) (Permission, error) {
	var perm Permission
	row := r.pool.QueryRow(ctx, `
		UPDATE permissions
		SET description = $3, is_active = $4
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+permissionColumns,
		params.ID, params.TenantID, params.Description, params.IsActive)
	if err := scanPermission(row, &perm); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, translateConstraint(err)
	}
	return perm, nil
}

// ListPermissions returns the tenant's active permissions ordered for display.
func (r *Repository) ListPermissions(ctx context.Context, tenantID uuid.UUID) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+permissionColumns+` FROM permissions
		WHERE tenant_id = $1 AND is_active ORDER BY resource, action`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := scanPermission(rows, &perm); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// GetPermissionByActionAndResource fetches a permission by its compound key.
func (r *Repository) GetPermissionByActionAndResource(ctx context.Context, action Action, resource Resource, tenantID uuid.UUID) (*Permission, error) {
	var perm Permission
	row := r.pool.QueryRow(ctx, `
		SELECT `+permissionColumns+` FROM permissions
		WHERE action = $1 AND resource = $2 AND tenant_id = $3`,
		action, resource, tenantID)
	if err := scanPermission(row, &perm); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &perm, nil
}

// ListRolePermissions returns the permissions attached to a role, scoped
// through the role's tenant so no cross-tenant role id can leak rows.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID, tenantID uuid.UUID) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.tenant_id, p.action, p.resource, p.description, p.is_active
		FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND r.tenant_id = $2
		ORDER BY p.resource, p.action`,
		roleID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := scanPermission(rows, &perm); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// AttachPermissionToRole inserts a role_permissions join row. The insert is
// driven off a select scoped to the tenant, so a role or permission that is
// missing or owned by another tenant matches zero rows and reports
// ErrNotFound instead of creating a cross-tenant link.
func (r *Repository) AttachPermissionToRole(ctx context.Context, roleID, permissionID, tenantID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT r.id, p.id
		FROM roles r
		JOIN permissions p ON p.tenant_id = r.tenant_id
		WHERE r.id = $1 AND p.id = $2 AND r.tenant_id = $3`,
		roleID, permissionID, tenantID)
	if err != nil {
		return translateConstraint(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DetachPermissionFromRole deletes a role_permissions join row, scoped
// through the role's tenant. A cross-tenant role id matches nothing.
func (r *Repository) DetachPermissionFromRole(ctx context.Context, roleID, permissionID, tenantID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM role_permissions rp
		USING roles r
		WHERE rp.role_id = r.id
		  AND rp.role_id = $1 AND rp.permission_id = $2 AND r.tenant_id = $3`,
		roleID, permissionID, tenantID)
	return err
}

// AssignRoleToUser inserts a user_roles row for a role owned by the params
// tenant. A missing or cross-tenant role matches zero rows and reports
// ErrNotFound; the (user_id, role_id) unique constraint rejects a second
// concurrent assignment with ErrAlreadyExists.
func (r *Repository) AssignRoleToUser(ctx context.Context, params AssignRoleParams) (UserRole, error) {
	assignment := UserRole{
		ID:         uuid.New(),
		UserID:     params.UserID,
		RoleID:     params.RoleID,
		AssignedBy: params.AssignedBy,
		ExpiresAt:  params.ExpiresAt,
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO user_roles (id, user_id, role_id, assigned_at, assigned_by, expires_at)
		SELECT $1, $2, r.id, now(), $4, $5
		FROM roles r
		WHERE r.id = $3 AND r.tenant_id = $6
		RETURNING assigned_at`,
		assignment.ID, assignment.UserID, assignment.RoleID, assignment.AssignedBy, assignment.ExpiresAt, params.TenantID)
	if err := row.Scan(&assignment.AssignedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRole{}, ErrNotFound
		}
		return UserRole{}, translateConstraint(err)
	}
	return assignment, nil
}

// RemoveRoleFromUser deletes the matching user_roles rows, scoped through the
// role's tenant. Removing an assignment that does not exist, or one held on
// another tenant's role, is a no-op.
func (r *Repository) RemoveRoleFromUser(ctx context.Context, userID, roleID, tenantID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM user_roles ur
		USING roles r
		WHERE ur.role_id = r.id
		  AND ur.user_id = $1 AND ur.role_id = $2 AND r.tenant_id = $3`,
		userID, roleID, tenantID)
	return err
}

// ListExpiringAssignments returns assignments expiring inside (from, until].
func (r *Repository) ListExpiringAssignments(ctx context.Context, from, until time.Time) ([]UserRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, role_id, assigned_at, assigned_by, expires_at
		FROM user_roles
		WHERE expires_at IS NOT NULL AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at`,
		from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []UserRole
	for rows.Next() {
		var ur UserRole
		if err := rows.Scan(&ur.ID, &ur.UserID, &ur.RoleID, &ur.AssignedAt, &ur.AssignedBy, &ur.ExpiresAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, ur)
	}
	return assignments, rows.Err()
}

func scanRole(row pgx.Row, role *Role) error {
	return row.Scan(&role.ID, &role.TenantID, &role.Name, &role.DisplayName,
		&role.Description, &role.IsActive, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
}

func scanPermission(row pgx.Row, perm *Permission) error {
	return row.Scan(&perm.ID, &perm.TenantID, &perm.Action, &perm.Resource,
		&perm.Description, &perm.IsActive)
}

// translateConstraint maps Postgres integrity errors onto the package
// sentinels: 23505 unique violations become ErrAlreadyExists, 23503 foreign
// key violations become ErrNotFound.
func translateConstraint(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAlreadyExists
		case "23503":
			return ErrNotFound
		}
	}
	return err
}
