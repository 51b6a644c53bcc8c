package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/stockchat/internal/infrastructure/validate"
)

// LobbyRoomID is the room commands fall back to when none is given.
const LobbyRoomID = "lobby"

type Room struct {
	ID          string    `bson:"_id" json:"id"`
	Name        string    `bson:"name" json:"name"`
	Description string    `bson:"description" json:"description"`
	IsActive    bool      `bson:"is_active" json:"isActive"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
}

type RoomRepository interface {
	// List returns active rooms ordered by name.
	List(ctx context.Context) ([]Room, error)
	GetByID(ctx context.Context, id string) (*Room, error)
	Save(ctx context.Context, room *Room) error
}

var (
	validateRoomID = validate.Field("room id",
		validate.Required(),
		validate.MaxLength(50),
		validate.Matches(`^[a-zA-Z0-9_-]+$`, "room id can only contain letters, numbers, underscores, and hyphens"),
	)
	validateRoomName        = validate.Field("room name", validate.Required(), validate.MaxLength(100))
	validateRoomDescription = validate.Field("room description", validate.MaxLength(500))
)

// ValidateRoomID reports whether id is usable as a room identifier and
// routing key segment.
func ValidateRoomID(id string) error {
	if err := validateRoomID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func NewRoom(id, name, description string) (*Room, error) {
	if err := ValidateRoomID(id); err != nil {
		return nil, err
	}
	if err := validateRoomName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := validateRoomDescription(description); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return &Room{
		ID:          id,
		Name:        name,
		Description: description,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
