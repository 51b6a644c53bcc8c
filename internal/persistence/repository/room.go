package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RoomRepository struct {
	db *mongo.Database
}

func NewRoomRepository(db *mongo.Database) *RoomRepository {
	return &RoomRepository{
		db: db,
	}
}

func (r *RoomRepository) List(ctx context.Context) ([]domain.Room, error) {
	collection := r.db.Collection(db.RoomsCollection)

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})

	cursor, err := collection.Find(ctx, bson.M{"is_active": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	rooms := []domain.Room{}
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, err
	}

	return rooms, nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	collection := r.db.Collection(db.RoomsCollection)

	var room domain.Room
	err := collection.FindOne(ctx, bson.M{"_id": id, "is_active": true}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	return &room, nil
}

func (r *RoomRepository) Save(ctx context.Context, room *domain.Room) error {
	if room == nil {
		return fmt.Errorf("%w: room is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateRoomID(room.ID); err != nil {
		return err
	}

	collection := r.db.Collection(db.RoomsCollection)

	_, err := collection.ReplaceOne(ctx, bson.M{"_id": room.ID}, room, options.Replace().SetUpsert(true))
	return err
}

func (r *RoomRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(db.RoomsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "is_active", Value: 1},
				{Key: "name", Value: 1},
			},
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
