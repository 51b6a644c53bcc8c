package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging"
	"github.com/hilthontt/stockchat/internal/infrastructure/metrics"
)

const QuoteWorkerName = "quote-worker"

// Broadcaster pushes a quote to the live clients of one room.
type Broadcaster interface {
	BroadcastQuote(ctx context.Context, author, text string, at time.Time, roomID string) error
}

// QuoteWorker stores bot quotes as chat records and fans them out to the
// room they were requested from.
type QuoteWorker struct {
	broker      messaging.Broker
	users       domain.UserRepository
	messages    domain.MessageRepository
	broadcaster Broadcaster
	botName     string
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu  sync.Mutex
	bot *domain.User
}

func NewQuoteWorker(
	broker messaging.Broker,
	users domain.UserRepository,
	messages domain.MessageRepository,
	broadcaster Broadcaster,
	botName string,
	logger logging.Logger,
	m *metrics.Metrics,
) *QuoteWorker {
	if botName == "" {
		botName = domain.BotUsername
	}

	return &QuoteWorker{
		broker:      broker,
		users:       users,
		messages:    messages,
		broadcaster: broadcaster,
		botName:     botName,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

func (w *QuoteWorker) Run(ctx context.Context) error {
	return runSubscription(ctx, QuoteWorkerName, w.broker, w.logger, contracts.KindQuotes, w.HandleQuote)
}

// HandleQuote persists and broadcasts one quote. Failures are logged and
// never returned, so the subscription keeps going.
func (w *QuoteWorker) HandleQuote(ctx context.Context, d messaging.Delivery) error {
	q, err := decode[contracts.StockQuote](d.Body)
	if err != nil {
		return err
	}
	if q.RoomID, err = roomOf(d, contracts.KindQuotes, q.RoomID); err != nil {
		return err
	}

	extra := map[logging.ExtraKey]any{
		logging.StockCode: q.StockCode,
		logging.RoomID:    q.RoomID,
	}

	if strings.TrimSpace(q.Quote) == "" {
		w.metrics.QuoteHandled(metrics.OutcomeSkipped)
		w.logger.Warn(logging.Worker, logging.QuoteHandling, "received empty quote, skipping", extra)
		return nil
	}

	bot, err := w.botIdentity(ctx)
	if err != nil {
		w.metrics.QuoteHandled(metrics.OutcomeFailed)
		w.logger.Error(logging.Worker, logging.Identity, fmt.Sprintf("%s user not found", w.botName), withError(extra, err))
		return nil
	}

	record, err := domain.NewMessage(bot, q.RoomID, q.Quote, true, w.now())
	if err != nil {
		w.metrics.QuoteHandled(metrics.OutcomeFailed)
		w.logger.Error(logging.Worker, logging.Persist, "quote cannot be stored", withError(extra, err))
		return nil
	}

	saved, err := w.messages.AddMessage(ctx, record)
	if err != nil {
		w.metrics.QuoteHandled(metrics.OutcomeFailed)
		w.logger.Error(logging.Storage, logging.Persist, "failed to store quote", withError(extra, err))
		return nil
	}

	if err := w.broadcaster.BroadcastQuote(ctx, saved.Username, saved.Content, saved.CreatedAt, saved.RoomID); err != nil {
		w.metrics.QuoteHandled(metrics.OutcomeFailed)
		w.logger.Error(logging.Websocket, logging.Broadcast, "failed to broadcast quote", withError(extra, err))
		return nil
	}

	w.metrics.QuoteHandled(metrics.OutcomeOK)
	w.logger.Info(logging.Worker, logging.QuoteHandling, "quote stored and broadcast", extra)
	return nil
}

// botIdentity resolves the bot account once and caches it. A missing
// account is looked up again on the next message.
func (w *QuoteWorker) botIdentity(ctx context.Context) (*domain.User, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.bot != nil {
		return w.bot, nil
	}

	bot, err := w.users.GetByName(ctx, w.botName)
	if err != nil {
		return nil, err
	}
	w.bot = bot
	return bot, nil
}
