package users

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user account within a tenant.
type User struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUserParams carries fields for inserting a user. The password arrives
// in clear text and is hashed by the service.
type CreateUserParams struct {
	TenantID uuid.UUID
	Email    string
	Name     string
	Password string
}
