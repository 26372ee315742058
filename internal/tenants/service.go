package tenants

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound indicates the tenant does not exist.
var ErrNotFound = errors.New("tenants: not found")

// ErrNameTaken indicates the tenant name is already in use.
var ErrNameTaken = errors.New("tenants: name already in use")

// RepositoryPort defines data access methods for tenants.
type RepositoryPort interface {
	ListTenants(ctx context.Context) ([]Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error)
	CreateTenant(ctx context.Context, tenant Tenant) (Tenant, error)
	SetTenantActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Service handles tenant business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListTenants returns all tenants.
func (s *Service) ListTenants(ctx context.Context) ([]Tenant, error) {
	return s.repo.ListTenants(ctx)
}

// GetTenant fetches a tenant by id.
func (s *Service) GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.repo.GetTenant(ctx, id)
}

// CreateTenant registers a new tenant.
func (s *Service) CreateTenant(ctx context.Context, name string) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, errors.New("tenants: name required")
	}
	return s.repo.CreateTenant(ctx, Tenant{ID: uuid.New(), Name: name, IsActive: true})
}

// SetTenantActive toggles a tenant's active flag.
func (s *Service) SetTenantActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.repo.SetTenantActive(ctx, id, active)
}
