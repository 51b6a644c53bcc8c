package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/stockchat/internal/infrastructure/validate"
)

const (
	MaxContentLength         = 2000
	maxMessageUsernameLength = 100
)

// Message is a persisted chat record. Quotes posted by the bot carry
// IsQuote so clients can render them differently.
type Message struct {
	ID        string    `bson:"_id" json:"id"`
	RoomID    string    `bson:"room_id" json:"roomId"`
	UserID    string    `bson:"user_id" json:"userId"`
	Username  string    `bson:"username" json:"username"`
	Content   string    `bson:"content" json:"content"`
	IsQuote   bool      `bson:"is_quote" json:"isQuote"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type MessageRepository interface {
	AddMessage(ctx context.Context, message *Message) (*Message, error)
	// GetLastMessages returns the most recent count messages of roomID,
	// oldest first. An empty roomID spans every room.
	GetLastMessages(ctx context.Context, count int, roomID string) ([]Message, error)
}

var (
	validateContent = validate.Field("content",
		validate.Required(),
		validate.MaxLength(MaxContentLength),
	)
	validateAuthor = validate.Field("username",
		validate.Required(),
		validate.MaxLength(maxMessageUsernameLength),
	)
)

func NewMessage(author *User, roomID, content string, isQuote bool, at time.Time) (*Message, error) {
	if author == nil {
		return nil, fmt.Errorf("%w: message author is required", ErrInvalidInput)
	}
	if err := validateRoomID(roomID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := validateContent(content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := validateAuthor(author.Username); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return &Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    author.ID,
		Username:  author.Username,
		Content:   content,
		IsQuote:   isQuote,
		CreatedAt: at.UTC(),
	}, nil
}
