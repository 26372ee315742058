package tenants

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the top-level isolation boundary: every role, permission and
// assignment belongs to exactly one tenant.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
