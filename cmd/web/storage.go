package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/infrastructure/configs"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/stockchat/internal/infrastructure/repository"
	"github.com/hilthontt/stockchat/internal/persistence/db"
	mongorepo "github.com/hilthontt/stockchat/internal/persistence/repository"
	"github.com/hilthontt/stockchat/internal/presentation/handler/health"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type storage struct {
	users    domain.UserRepository
	messages domain.MessageRepository
	rooms    domain.RoomRepository
	checks   []health.Check
	close    func()
}

func openStorage(ctx context.Context, cfg *configs.Config, logger logging.Logger) (*storage, error) {
	if cfg.Storage.Driver != "mongo" {
		logger.Info(logging.Storage, logging.Startup, "using in-memory storage", nil)
		return &storage{
			users:    repository.NewUserRepository(),
			messages: repository.NewMessageRepository(cfg.Storage.Capacity),
			rooms:    repository.NewRoomRepository(),
			close:    func() {},
		}, nil
	}

	mongoCfg := &db.MongoConfig{
		URI:               cfg.Mongo.URI,
		Database:          cfg.Mongo.Database,
		ConnectionTimeout: cfg.Mongo.Timeout,
	}
	client, err := db.NewMongoClient(ctx, mongoCfg, logger)
	if err != nil {
		return nil, err
	}

	store := mongorepo.NewStore(db.GetDatabase(client, mongoCfg))
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = db.DisconnectMongo(context.Background(), client, logger)
		return nil, err
	}

	return &storage{
		users:    store.Users,
		messages: store.Messages,
		rooms:    store.Rooms,
		checks: []health.Check{{
			Name: "mongodb",
			Fn: func(ctx context.Context) error {
				return client.Ping(ctx, readpref.Primary())
			},
		}},
		close: func() {
			_ = db.DisconnectMongo(context.Background(), client, logger)
		},
	}, nil
}

// seed creates the configured rooms that do not exist yet and the bot
// account that quotes are posted under.
func seed(ctx context.Context, cfg *configs.Config, s *storage) error {
	for _, rs := range cfg.Rooms {
		_, err := s.rooms.GetByID(ctx, rs.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrRoomNotFound) {
			return err
		}

		room, err := domain.NewRoom(rs.ID, rs.Name, rs.Description)
		if err != nil {
			return fmt.Errorf("room %q: %w", rs.ID, err)
		}
		if err := s.rooms.Save(ctx, room); err != nil {
			return fmt.Errorf("room %q: %w", rs.ID, err)
		}
	}

	if _, err := domain.EnsureUser(ctx, s.users, cfg.Bot.Username, cfg.Bot.Email, true); err != nil {
		return fmt.Errorf("bot user: %w", err)
	}
	return nil
}

func newRateLimiter(cfg *configs.Config, logger logging.Logger) (*ratelimiter.RateLimiter, error) {
	opts := ratelimiter.Options{
		MaxRatePerSecond: cfg.RateLimiter.MaxRatePerSecond,
		MaxBurst:         cfg.RateLimiter.MaxBurst,
		CacheTTL:         cfg.RateLimiter.CacheTTL,
		SourceHeaderKey:  cfg.RateLimiter.SourceHeaderKey,
	}

	if cfg.Redis.Enabled {
		opts.Cache = ratelimiter.NewRedisCache(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
		logger.Info(logging.Redis, logging.Startup, "rate limiter backed by redis", map[logging.ExtraKey]any{
			logging.HostIp: cfg.Redis.Addr,
		})
	}

	return ratelimiter.New(opts)
}
