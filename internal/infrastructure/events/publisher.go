package events

import (
	"context"
	"time"

	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging"
)

// StockPublisher is the only way the chat front end talks to the bot.
type StockPublisher struct {
	broker messaging.Broker
	now    func() time.Time
}

func NewStockPublisher(broker messaging.Broker) *StockPublisher {
	return &StockPublisher{
		broker: broker,
		now:    time.Now,
	}
}

// PublishCommand validates and routes a /stock= request to room.<roomID>.commands.
func (p *StockPublisher) PublishCommand(ctx context.Context, stockCode, username, roomID string) error {
	cmd, err := contracts.NewStockCommand(stockCode, username, roomID, p.now())
	if err != nil {
		return err
	}

	return p.broker.Publish(ctx, contracts.KindCommands, cmd.RoomID, cmd)
}

func (p *StockPublisher) PublishQuote(ctx context.Context, stockCode, quote, username, roomID string) error {
	q, err := contracts.NewStockQuote(stockCode, quote, username, roomID, p.now())
	if err != nil {
		return err
	}

	return p.broker.Publish(ctx, contracts.KindQuotes, q.RoomID, q)
}
