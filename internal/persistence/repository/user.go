package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// userDocument adds the lower-cased lookup key usernames are unique on.
type userDocument struct {
	domain.User `bson:",inline"`
	UsernameKey string `bson:"username_key"`
}

type UserRepository struct {
	db *mongo.Database
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

func (r *UserRepository) GetByName(ctx context.Context, username string) (*domain.User, error) {
	collection := r.db.Collection(db.UsersCollection)

	var doc userDocument
	err := collection.FindOne(ctx, bson.M{"username_key": strings.ToLower(username)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, username)
	}
	if err != nil {
		return nil, err
	}

	return &doc.User, nil
}

func (r *UserRepository) Save(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user with id is required", domain.ErrInvalidInput)
	}

	collection := r.db.Collection(db.UsersCollection)

	doc := userDocument{User: *user, UsernameKey: strings.ToLower(user.Username)}
	_, err := collection.ReplaceOne(ctx, bson.M{"_id": user.ID}, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: username %q is taken", domain.ErrInvalidInput, user.Username)
	}
	return err
}

func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(db.UsersCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
