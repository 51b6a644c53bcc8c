package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepository struct {
	db *mongo.Database
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{
		db: db,
	}
}

func (r *MessageRepository) AddMessage(ctx context.Context, message *domain.Message) (*domain.Message, error) {
	if message == nil || message.RoomID == "" {
		return nil, fmt.Errorf("%w: message and room are required", domain.ErrInvalidInput)
	}

	saved := *message
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	// Mongo stores milliseconds; trim so the returned record matches a reload.
	saved.CreatedAt = saved.CreatedAt.Truncate(time.Millisecond)

	collection := r.db.Collection(db.MessagesCollection)
	if _, err := collection.InsertOne(ctx, saved); err != nil {
		return nil, err
	}

	return &saved, nil
}

func (r *MessageRepository) GetLastMessages(ctx context.Context, count int, roomID string) ([]domain.Message, error) {
	if count <= 0 {
		return []domain.Message{}, nil
	}

	collection := r.db.Collection(db.MessagesCollection)

	filter := bson.M{}
	if roomID != "" {
		filter["room_id"] = roomID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(count))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []domain.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}

func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(db.MessagesCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "room_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
