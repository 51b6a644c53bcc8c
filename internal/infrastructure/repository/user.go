package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hilthontt/stockchat/internal/domain"
)

// Usernames are matched case-insensitively.
type userRepository struct {
	users map[string]domain.User // lower(username) -> User
	mu    sync.RWMutex
}

func NewUserRepository() domain.UserRepository {
	return &userRepository{
		users: make(map[string]domain.User),
	}
}

func (r *userRepository) GetByName(ctx context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[strings.ToLower(username)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, username)
	}
	return &u, nil
}

func (r *userRepository) Save(ctx context.Context, user *domain.User) error {
	if user == nil || user.Username == "" {
		return fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[strings.ToLower(user.Username)] = *user
	return nil
}
