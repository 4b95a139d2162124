package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when a user ID resolves to no active account.
var ErrUserNotFound = errors.New("user not found")

type Service struct {
	users UserRepository
}

func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if u.DisplayName == "" {
		return fmt.Errorf("display_name is required")
	}
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if u.Role == "" {
		u.Role = "staff"
	}
	u.IsActive = true
	return s.users.Create(ctx, u)
}

// GetUser resolves an ID to an active user. Inactive or missing accounts
// both report ErrUserNotFound so callers cannot distinguish them.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !u.IsActive {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, limit, offset)
}
