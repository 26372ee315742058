package users

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound indicates the user does not exist in the tenant.
var ErrNotFound = errors.New("users: not found")

// ErrEmailTaken indicates the email is already registered in the tenant.
var ErrEmailTaken = errors.New("users: email already registered")

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, tenantID uuid.UUID) ([]User, error)
	GetUser(ctx context.Context, id, tenantID uuid.UUID) (*User, error)
	CreateUser(ctx context.Context, user User) (User, error)
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns the tenant's users.
func (s *Service) ListUsers(ctx context.Context, tenantID uuid.UUID) ([]User, error) {
	return s.repo.ListUsers(ctx, tenantID)
}

// GetUser fetches a user by id within the tenant.
func (s *Service) GetUser(ctx context.Context, id, tenantID uuid.UUID) (*User, error) {
	return s.repo.GetUser(ctx, id, tenantID)
}

// CreateUser registers a user in the tenant with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return User{}, errors.New("users: email required")
	}
	if len(params.Password) < 8 {
		return User{}, errors.New("users: password too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.CreateUser(ctx, User{
		ID:           uuid.New(),
		TenantID:     params.TenantID,
		Email:        email,
		Name:         strings.TrimSpace(params.Name),
		PasswordHash: string(hash),
		IsActive:     true,
	})
}
