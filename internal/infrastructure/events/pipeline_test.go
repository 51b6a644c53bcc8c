package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging/messagingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPipeline runs both workers against one in-process broker and
// returns the publisher the chat front end would use.
func startPipeline(t *testing.T, source *fakeQuoteSource) (*StockPublisher, *quoteFixture, *messagingtest.Broker) {
	t.Helper()

	broker := messagingtest.NewBroker()
	f := newQuoteFixture(t, true)
	f.worker.broker = broker

	cw := NewCommandWorker(broker, source, logging.NewNopLogger(), nil, CommandWorkerConfig{RetryDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = cw.Run(ctx) }()
	go func() { _ = f.worker.Run(ctx) }()

	require.Eventually(t, func() bool { return broker.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	return NewStockPublisher(broker), f, broker
}

func TestPipeline_QuoteReachesOriginatingRoom(t *testing.T) {
	source := &fakeQuoteSource{quotes: map[string]string{"aapl": "AAPL quote is $123.45 per share"}}
	pub, f, broker := startPipeline(t, source)

	require.NoError(t, pub.PublishCommand(context.Background(), "aapl", "john", "lobby"))

	require.Eventually(t, func() bool { return len(f.broadcaster.all()) == 1 }, time.Second, 5*time.Millisecond)

	quotes := broker.Published(contracts.KindQuotes)
	require.Len(t, quotes, 1)
	var q contracts.StockQuote
	require.NoError(t, quotes[0].Decode(&q))
	assert.Equal(t, "aapl", q.StockCode)
	assert.Contains(t, q.Quote, "AAPL quote is $123.45")
	assert.Equal(t, "john", q.Username)
	assert.Equal(t, "lobby", q.RoomID)
	assert.Equal(t, "room.lobby.quotes", quotes[0].RoutingKey)

	msgs, err := f.messages.GetLastMessages(context.Background(), 10, "lobby")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.BotUsername, msgs[0].Username)
	assert.True(t, msgs[0].IsQuote)
	assert.Equal(t, "lobby", f.broadcaster.all()[0].RoomID)
}

func TestPipeline_NotFoundStaysInItsRoom(t *testing.T) {
	pub, f, _ := startPipeline(t, &fakeQuoteSource{})

	require.NoError(t, pub.PublishCommand(context.Background(), "zzzz", "ana", "tech"))

	require.Eventually(t, func() bool { return len(f.broadcaster.all()) == 1 }, time.Second, 5*time.Millisecond)

	call := f.broadcaster.all()[0]
	assert.Equal(t, "tech", call.RoomID)
	assert.Contains(t, call.Text, "ZZZZ")
	assert.Contains(t, call.Text, "couldn't find")

	lobby, err := f.messages.GetLastMessages(context.Background(), 10, "lobby")
	require.NoError(t, err)
	assert.Empty(t, lobby)
}

func TestPipeline_CommandWithoutRoomIsAnsweredWhereItWasRouted(t *testing.T) {
	source := &fakeQuoteSource{quotes: map[string]string{"aapl": "AAPL quote is $123.45 per share"}}
	_, f, broker := startPipeline(t, source)

	raw := json.RawMessage(`{"stockCode":"aapl","username":"john"}`)
	require.NoError(t, broker.Publish(context.Background(), contracts.KindCommands, "tech", raw))

	require.Eventually(t, func() bool { return len(f.broadcaster.all()) == 1 }, time.Second, 5*time.Millisecond)

	quotes := broker.Published(contracts.KindQuotes)
	require.Len(t, quotes, 1)
	assert.Equal(t, "room.tech.quotes", quotes[0].RoutingKey)
	assert.Equal(t, "tech", f.broadcaster.all()[0].RoomID)

	lobby, err := f.messages.GetLastMessages(context.Background(), 10, "lobby")
	require.NoError(t, err)
	assert.Empty(t, lobby)
}

func TestPipeline_TwoQuoteListenersBothReceive(t *testing.T) {
	source := &fakeQuoteSource{quotes: map[string]string{"msft": "MSFT quote is $410.10 per share"}}
	pub, f, broker := startPipeline(t, source)

	second := &fakeBroadcaster{}
	other := NewQuoteWorker(broker, f.users, f.messages, second, domain.BotUsername, logging.NewNopLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = other.Run(ctx) }()
	require.Eventually(t, func() bool { return broker.Subscribers() == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, pub.PublishCommand(context.Background(), "msft", "ana", "lobby"))

	require.Eventually(t, func() bool {
		return len(f.broadcaster.all()) == 1 && len(second.all()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStockPublisher_RejectsInvalidCommand(t *testing.T) {
	broker := messagingtest.NewBroker()
	pub := NewStockPublisher(broker)

	err := pub.PublishCommand(context.Background(), "AAPL1", "john", "lobby")

	assert.ErrorIs(t, err, contracts.ErrInvalidMessage)
	assert.Zero(t, broker.PublishCalls())
}

func TestStockPublisher_PublishQuoteRoutesToRoom(t *testing.T) {
	broker := messagingtest.NewBroker()
	pub := NewStockPublisher(broker)

	require.NoError(t, pub.PublishQuote(context.Background(), "aapl", "AAPL quote is $1.00 per share", "john", "tech"))

	msgs := broker.Published(contracts.KindQuotes)
	require.Len(t, msgs, 1)
	assert.Equal(t, "room.tech.quotes", msgs[0].RoutingKey)
}
