package services

import (
	"context"
	"errors"

	"github.com/savage-app/savage/internal/store"
	"github.com/savage-app/savage/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (types.User, error)
	GetByRememberIdentifier(ctx context.Context, identifier string) (types.User, error)
	ListUsernames(ctx context.Context) ([]types.UsernameRecord, error)
	Create(ctx context.Context, user types.User, perms types.Permissions) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	UpdateRememberCredentials(ctx context.Context, id int, identifier, tokenHash string) error
	GetPermissions(ctx context.Context, userID int) (types.Permissions, error)
}

// UserService encapsulates user lookups for the web layer.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// Current loads the signed-in user. A missing or banned account yields
// ErrNotAuthenticated so stale sessions are treated as signed out.
func (s *UserService) Current(ctx context.Context, id int) (types.User, error) {
	if id < 1 {
		return types.User{}, ErrNotAuthenticated
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotAuthenticated
		}
		return types.User{}, err
	}
	if !user.Active {
		return types.User{}, ErrNotAuthenticated
	}
	return user, nil
}

func (s *UserService) Permissions(ctx context.Context, userID int) (types.Permissions, error) {
	perms, err := s.repo.GetPermissions(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return types.DefaultPermissions(), nil
	}
	return perms, err
}
