package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, tenant_id, email, name, password_hash, is_active, created_at, updated_at`

// ListUsers returns the tenant's users ordered by email.
func (r *Repository) ListUsers(ctx context.Context, tenantID uuid.UUID) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY email`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []User
	for rows.Next() {
		var user User
		if err := scanUser(rows, &user); err != nil {
			return nil, err
		}
		list = append(list, user)
	}
	return list, rows.Err()
}

// GetUser fetches a user by id scoped to the tenant.
func (r *Repository) GetUser(ctx context.Context, id, tenantID uuid.UUID) (*User, error) {
	var user User
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)
	if err := scanUser(row, &user); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a user. Emails are unique across tenants so that login
// needs no tenant discriminator; a duplicate reports ErrEmailTaken.
func (r *Repository) CreateUser(ctx context.Context, user User) (User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, tenant_id, email, name, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at`,
		user.ID, user.TenantID, user.Email, user.Name, user.PasswordHash, user.IsActive)
	if err := row.Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return user, nil
}

func scanUser(row pgx.Row, user *User) error {
	return row.Scan(&user.ID, &user.TenantID, &user.Email, &user.Name,
		&user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
}
