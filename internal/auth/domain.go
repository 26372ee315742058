package auth

import (
	"time"

	"github.com/google/uuid"
)

// User represents an authenticatable account. TenantID is empty for
// platform operators that are not bound to a tenant.
type User struct {
	ID           uuid.UUID
	TenantID     uuid.NullUUID
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
