package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"golang.org/x/time/rate"
)

const (
	commandPrefix = "/stock="

	DefaultHistoryCount = 50
	MaxHistoryCount     = 200

	UnavailableNotice   = "Stock service is currently unavailable."
	NotConfiguredNotice = "Stock service is not configured."
	MissingCodeNotice   = "Please provide a stock code, for example /stock=aapl.usa"
)

var ErrThrottled = errors.New("too many stock commands, please wait a moment")

// LookupNotice acknowledges an accepted /stock= command to its sender.
func LookupNotice(stockCode string) string {
	return fmt.Sprintf("Looking up stock quote for %s...", strings.ToUpper(stockCode))
}

func InvalidCodeNotice(stockCode string) string {
	return fmt.Sprintf("%q is not a valid stock code. Use 1-10 letters or dots.", stockCode)
}

type CommandPublisher interface {
	PublishCommand(ctx context.Context, stockCode, username, roomID string) error
}

// Broadcaster pushes a stored chat record to the clients of its room.
type Broadcaster interface {
	BroadcastMessage(ctx context.Context, m *domain.Message) error
}

type Service interface {
	SendMessage(ctx context.Context, username, roomID, text string) (notice string, err error)
	History(ctx context.Context, roomID string, count int) ([]domain.Message, error)
	Rooms(ctx context.Context) ([]domain.Room, error)
	Room(ctx context.Context, roomID string) (*domain.Room, error)
}

type Config struct {
	BotName         string
	CommandInterval time.Duration
	CommandBurst    int
}

type service struct {
	users       domain.UserRepository
	messages    domain.MessageRepository
	rooms       domain.RoomRepository
	publisher   CommandPublisher
	broadcaster Broadcaster
	logger      logging.Logger
	cfg         Config
	now         func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService wires the chat front end. A nil publisher disables /stock=.
func NewService(
	users domain.UserRepository,
	messages domain.MessageRepository,
	rooms domain.RoomRepository,
	publisher CommandPublisher,
	broadcaster Broadcaster,
	logger logging.Logger,
	cfg Config,
) Service {
	if cfg.BotName == "" {
		cfg.BotName = domain.BotUsername
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 1
	}

	return &service{
		users:       users,
		messages:    messages,
		rooms:       rooms,
		publisher:   publisher,
		broadcaster: broadcaster,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (s *service) SendMessage(ctx context.Context, username, roomID, text string) (string, error) {
	if roomID == "" {
		roomID = domain.LobbyRoomID
	}
	if _, err := s.Room(ctx, roomID); err != nil {
		return "", err
	}

	username = strings.TrimSpace(username)
	if strings.EqualFold(username, s.cfg.BotName) {
		return "", fmt.Errorf("%w: username %q is reserved", domain.ErrInvalidInput, username)
	}

	user, err := domain.EnsureUser(ctx, s.users, username, "", false)
	if err != nil {
		return "", err
	}

	if isCommand(text) {
		return s.stockCommand(ctx, user.Username, roomID, strings.TrimSpace(text[len(commandPrefix):]))
	}

	return "", s.chatMessage(ctx, user, roomID, text)
}

func isCommand(text string) bool {
	return len(text) >= len(commandPrefix) && strings.EqualFold(text[:len(commandPrefix)], commandPrefix)
}

func (s *service) stockCommand(ctx context.Context, username, roomID, code string) (string, error) {
	extra := map[logging.ExtraKey]any{
		logging.Username:  username,
		logging.RoomID:    roomID,
		logging.StockCode: code,
	}

	if code == "" {
		return MissingCodeNotice, nil
	}
	if err := contracts.ValidateStockCode(code); err != nil {
		return InvalidCodeNotice(code), nil
	}
	if s.publisher == nil {
		return NotConfiguredNotice, nil
	}
	if !s.allow(username) {
		s.logger.Warn(logging.Stock, logging.RateLimiting, "stock command throttled", extra)
		return "", ErrThrottled
	}

	if err := s.publisher.PublishCommand(ctx, code, username, roomID); err != nil {
		s.logger.Warn(logging.RabbitMQ, logging.Publish, "failed to publish stock command", withError(extra, err))
		return UnavailableNotice, nil
	}

	s.logger.Info(logging.Stock, logging.CommandHandling, "stock command published", extra)
	return LookupNotice(code), nil
}

func (s *service) chatMessage(ctx context.Context, author *domain.User, roomID, text string) error {
	record, err := domain.NewMessage(author, roomID, text, false, s.now())
	if err != nil {
		return err
	}

	saved, err := s.messages.AddMessage(ctx, record)
	if err != nil {
		s.logger.Error(logging.Storage, logging.Persist, "failed to store chat message", map[logging.ExtraKey]any{
			logging.RoomID:       roomID,
			logging.Username:     author.Username,
			logging.ErrorMessage: err.Error(),
		})
		return err
	}

	if err := s.broadcaster.BroadcastMessage(ctx, saved); err != nil {
		s.logger.Error(logging.Websocket, logging.Broadcast, "failed to broadcast chat message", map[logging.ExtraKey]any{
			logging.RoomID:       roomID,
			logging.ErrorMessage: err.Error(),
		})
	}
	return nil
}

// allow applies the per-user token bucket for /stock= commands. A zero
// interval disables throttling.
func (s *service) allow(username string) bool {
	if s.cfg.CommandInterval <= 0 {
		return true
	}

	key := strings.ToLower(username)

	s.mu.Lock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.cfg.CommandInterval), s.cfg.CommandBurst)
		s.limiters[key] = l
	}
	s.mu.Unlock()

	return l.AllowN(s.now(), 1)
}

func (s *service) History(ctx context.Context, roomID string, count int) ([]domain.Message, error) {
	if _, err := s.Room(ctx, roomID); err != nil {
		return nil, err
	}

	switch {
	case count <= 0:
		count = DefaultHistoryCount
	case count > MaxHistoryCount:
		count = MaxHistoryCount
	}

	return s.messages.GetLastMessages(ctx, count, roomID)
}

func (s *service) Rooms(ctx context.Context) ([]domain.Room, error) {
	return s.rooms.List(ctx)
}

func (s *service) Room(ctx context.Context, roomID string) (*domain.Room, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	return room, nil
}

func withError(extra map[logging.ExtraKey]any, err error) map[logging.ExtraKey]any {
	out := make(map[logging.ExtraKey]any, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out[logging.ErrorMessage] = err.Error()
	return out
}
