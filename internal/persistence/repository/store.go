package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// Store groups the Mongo-backed repositories of one database.
type Store struct {
	Messages *MessageRepository
	Users    *UserRepository
	Rooms    *RoomRepository
}

func NewStore(database *mongo.Database) *Store {
	return &Store{
		Messages: NewMessageRepository(database),
		Users:    NewUserRepository(database),
		Rooms:    NewRoomRepository(database),
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	if err := s.Messages.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("messages indexes: %w", err)
	}
	if err := s.Users.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	if err := s.Rooms.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("rooms indexes: %w", err)
	}
	return nil
}
