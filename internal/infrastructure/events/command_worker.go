package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging"
	"github.com/hilthontt/stockchat/internal/infrastructure/metrics"
	"github.com/hilthontt/stockchat/internal/infrastructure/stock"
)

const CommandWorkerName = "command-worker"

// NotFoundText is the reply for a symbol the quote source does not know.
func NotFoundText(stockCode string) string {
	return fmt.Sprintf("Sorry, I couldn't find a quote for %s. Please check the stock symbol.", strings.ToUpper(stockCode))
}

// ErrorText is the reply when the quote source fails.
func ErrorText(stockCode string) string {
	return fmt.Sprintf("Sorry, I encountered an error while fetching the quote for %s. Please try again later.", strings.ToUpper(stockCode))
}

type CommandWorkerConfig struct {
	// RetryDelay is the pause before the single publish retry.
	RetryDelay time.Duration
}

// CommandWorker answers stock commands from every room with a quote
// published back to the originating room.
type CommandWorker struct {
	broker     messaging.Broker
	source     stock.QuoteSource
	logger     logging.Logger
	metrics    *metrics.Metrics
	retryDelay time.Duration
	now        func() time.Time
}

func NewCommandWorker(
	broker messaging.Broker,
	source stock.QuoteSource,
	logger logging.Logger,
	m *metrics.Metrics,
	cfg CommandWorkerConfig,
) *CommandWorker {
	return &CommandWorker{
		broker:     broker,
		source:     source,
		logger:     logger,
		metrics:    m,
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
	}
}

// Run blocks until ctx is cancelled or the subscription is lost.
func (w *CommandWorker) Run(ctx context.Context) error {
	return runSubscription(ctx, CommandWorkerName, w.broker, w.logger, contracts.KindCommands, w.HandleCommand)
}

func (w *CommandWorker) HandleCommand(ctx context.Context, d messaging.Delivery) error {
	cmd, err := decode[contracts.StockCommand](d.Body)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cmd.StockCode) == "" {
		return fmt.Errorf("%w: command without stock code", messaging.ErrMalformedMessage)
	}
	if cmd.RoomID, err = roomOf(d, contracts.KindCommands, cmd.RoomID); err != nil {
		return err
	}

	extra := map[logging.ExtraKey]any{
		logging.StockCode: cmd.StockCode,
		logging.Username:  cmd.Username,
		logging.RoomID:    cmd.RoomID,
	}
	w.logger.Info(logging.Worker, logging.CommandHandling, "processing stock command", extra)

	quote := contracts.StockQuote{
		StockCode: cmd.StockCode,
		Quote:     w.lookup(ctx, cmd.StockCode, extra),
		Username:  cmd.Username,
		RoomID:    cmd.RoomID,
		Timestamp: w.now().UTC(),
	}

	w.publish(ctx, quote, extra)
	return nil
}

// lookup always yields chat-visible text.
func (w *CommandWorker) lookup(ctx context.Context, stockCode string, extra map[logging.ExtraKey]any) string {
	quote, err := w.getQuote(ctx, stockCode)
	switch {
	case err != nil:
		w.metrics.QuoteLookup(metrics.OutcomeError)
		w.logger.Error(logging.Stock, logging.QuoteLookup, "quote source failed", withError(extra, err))
		return ErrorText(stockCode)
	case strings.TrimSpace(quote) == "":
		w.metrics.QuoteLookup(metrics.OutcomeNotFound)
		w.logger.Warn(logging.Stock, logging.QuoteLookup, "no quote found", extra)
		return NotFoundText(stockCode)
	default:
		w.metrics.QuoteLookup(metrics.OutcomeOK)
		return quote
	}
}

func (w *CommandWorker) getQuote(ctx context.Context, stockCode string) (quote string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", stock.ErrQuoteSource, r)
		}
	}()
	return w.source.GetQuote(ctx, stockCode)
}

// publish sends the quote, retrying once on broker failure. A second
// failure drops the response.
func (w *CommandWorker) publish(ctx context.Context, quote contracts.StockQuote, extra map[logging.ExtraKey]any) {
	err := w.broker.Publish(ctx, contracts.KindQuotes, quote.RoomID, quote)
	if err == nil {
		return
	}
	if !errors.Is(err, messaging.ErrBrokerUnavailable) {
		w.metrics.Published(string(contracts.KindQuotes), metrics.OutcomeDropped)
		w.logger.Error(logging.Worker, logging.Publish, "cannot publish quote, dropping", withError(extra, err))
		return
	}

	w.metrics.Published(string(contracts.KindQuotes), metrics.OutcomeRetried)
	w.logger.Warn(logging.Worker, logging.Publish, "quote publish failed, retrying once", withError(extra, err))

	if !sleep(ctx, w.retryDelay) {
		w.metrics.Published(string(contracts.KindQuotes), metrics.OutcomeDropped)
		w.logger.Warn(logging.Worker, logging.Publish, "cancelled before retry, dropping quote", extra)
		return
	}

	if err := w.broker.Publish(ctx, contracts.KindQuotes, quote.RoomID, quote); err != nil {
		w.metrics.Published(string(contracts.KindQuotes), metrics.OutcomeDropped)
		w.logger.Error(logging.Worker, logging.Publish, "quote publish retry failed, dropping", withError(extra, err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func withError(extra map[logging.ExtraKey]any, err error) map[logging.ExtraKey]any {
	out := make(map[logging.ExtraKey]any, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out[logging.ErrorMessage] = err.Error()
	return out
}
