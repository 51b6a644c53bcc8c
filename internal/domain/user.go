package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/stockchat/internal/infrastructure/validate"
)

// BotUsername is the well-known account quotes are attributed to.
const BotUsername = "StockBot"

const maxUsernameLength = 50

type User struct {
	ID        string    `bson:"_id" json:"id"`
	Username  string    `bson:"username" json:"username"`
	Email     string    `bson:"email" json:"email"`
	IsBot     bool      `bson:"is_bot" json:"isBot"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type UserRepository interface {
	// GetByName returns ErrUserNotFound when no account has that username.
	GetByName(ctx context.Context, username string) (*User, error)
	Save(ctx context.Context, user *User) error
}

var validateUsername = validate.Field("username",
	validate.Required(),
	validate.MaxLength(maxUsernameLength),
)

func NewUser(rawName, email string) (*User, error) {
	name := strings.TrimSpace(rawName)
	if err := validateUsername(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if email != "" {
		if err := validate.Field("email", validate.Email())(email); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	return &User{
		ID:        uuid.NewString(),
		Username:  name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EnsureUser returns the account named username, creating it when missing.
func EnsureUser(ctx context.Context, repo UserRepository, username, email string, isBot bool) (*User, error) {
	existing, err := repo.GetByName(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user, err := NewUser(username, email)
	if err != nil {
		return nil, err
	}
	user.IsBot = isBot

	if err := repo.Save(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}
