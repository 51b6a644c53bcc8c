package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*RabbitMQ, *fakeDialer, *logging.RecordingLogger) {
	t.Helper()

	d := newFakeDialer()
	logger := logging.NewRecordingLogger()
	r := NewRabbitMQ(Config{URI: "amqp://test", Exchange: "chat_exchange"}, logger, WithDialer(d.dial))
	t.Cleanup(r.Close)

	return r, d, logger
}

func TestNewRabbitMQ_IsLazy(t *testing.T) {
	_, d, _ := newTestClient(t)

	assert.Zero(t, d.dials())
}

func TestEnsureConnected_DeclaresTopicExchangeOnce(t *testing.T) {
	r, d, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, r.EnsureConnected(ctx))
	require.NoError(t, r.EnsureConnected(ctx))

	assert.Equal(t, 1, d.dials())
	ch := d.last().channel()
	require.Len(t, ch.exchanges, 1)
	assert.Equal(t, declaredExchange{name: "chat_exchange", kind: "topic", durable: true}, ch.exchanges[0])
}

func TestEnsureConnected_ReconnectsWhenClosed(t *testing.T) {
	r, d, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, r.EnsureConnected(ctx))
	d.last().drop()

	require.NoError(t, r.EnsureConnected(ctx))
	assert.Equal(t, 2, d.dials())
	assert.Len(t, d.last().channel().exchanges, 1)
}

func TestEnsureConnected_ReopensClosedChannel(t *testing.T) {
	r, d, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, r.EnsureConnected(ctx))
	conn := d.last()
	conn.channel().drop()

	require.NoError(t, r.EnsureConnected(ctx))
	assert.Equal(t, 1, d.dials())
	assert.Len(t, conn.channels, 2)
}

func TestEnsureConnected_DialFailureIsBrokerUnavailable(t *testing.T) {
	r, d, _ := newTestClient(t)
	d.err = errors.New("connection refused")

	err := r.EnsureConnected(context.Background())

	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.NotPanics(t, r.Close)
}

func TestEnsureConnected_DialHonoursContextDeadline(t *testing.T) {
	r := NewRabbitMQ(Config{URI: "amqp://unreachable"}, logging.NewNopLogger(), WithDialer(blockingDial))
	t.Cleanup(r.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Publish(ctx, contracts.KindCommands, "lobby", contracts.StockCommand{StockCode: "aapl.us"})

	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSubscribe_CancelledContextAbortsDial(t *testing.T) {
	r := NewRabbitMQ(Config{URI: "amqp://unreachable"}, logging.NewNopLogger(), WithDialer(blockingDial))
	t.Cleanup(r.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := r.Subscribe(ctx, contracts.KindQuotes, "tech", func(context.Context, Delivery) error { return nil })
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscribe kept dialing after its context was cancelled")
	}
}

func TestClose_AbortsDialInProgress(t *testing.T) {
	r := NewRabbitMQ(Config{URI: "amqp://unreachable"}, logging.NewNopLogger(), WithDialer(blockingDial))

	dialErr := make(chan error, 1)
	go func() {
		dialErr <- r.EnsureConnected(context.Background())
	}()

	// Give the dial time to start and take the lock.
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close waited behind a dial that never finishes")
	}
	select {
	case err := <-dialErr:
		assert.ErrorIs(t, err, ErrBrokerUnavailable)
	case <-time.After(time.Second):
		t.Fatal("dial was not aborted")
	}
}

func TestEnsureConnected_ExchangeDeclareFailure(t *testing.T) {
	d := newFakeDialer()
	r := NewRabbitMQ(Config{URI: "amqp://test"}, logging.NewNopLogger(), WithDialer(func(ctx context.Context, uri string) (Connection, error) {
		conn, err := d.dial(ctx, uri)
		if err != nil {
			return nil, err
		}
		fc := conn.(*fakeConn)
		return &declareFailingConn{fakeConn: fc}, nil
	}))

	err := r.EnsureConnected(context.Background())
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.True(t, d.last().IsClosed())
}

type declareFailingConn struct {
	*fakeConn
}

func (c *declareFailingConn) Channel() (Channel, error) {
	ch, err := c.fakeConn.Channel()
	if err != nil {
		return nil, err
	}
	ch.(*fakeChannel).declareErr = errors.New("access refused")
	return ch, nil
}

func TestPublish_RoutesByRoomAndKind(t *testing.T) {
	r, d, _ := newTestClient(t)

	cmd := contracts.StockCommand{StockCode: "aapl", Username: "john", RoomID: "lobby"}
	require.NoError(t, r.Publish(context.Background(), contracts.KindCommands, "lobby", cmd))

	_, _, pubs := d.last().channel().snapshot()
	require.Len(t, pubs, 1)
	assert.Equal(t, "chat_exchange", pubs[0].exchange)
	assert.Equal(t, "room.lobby.commands", pubs[0].key)
	assert.Equal(t, "application/json", pubs[0].msg.ContentType)
	assert.Equal(t, "commands", pubs[0].msg.Type)
	assert.NotEmpty(t, pubs[0].msg.MessageId)

	var got contracts.StockCommand
	require.NoError(t, json.Unmarshal(pubs[0].msg.Body, &got))
	assert.Equal(t, cmd.StockCode, got.StockCode)
	assert.Equal(t, cmd.RoomID, got.RoomID)
}

func TestPublish_FailureIsBrokerUnavailable(t *testing.T) {
	r, d, _ := newTestClient(t)
	require.NoError(t, r.EnsureConnected(context.Background()))
	d.last().channel().publishErr = amqp.ErrClosed

	err := r.Publish(context.Background(), contracts.KindQuotes, "lobby", contracts.StockQuote{})

	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestPublish_RejectsWildcardRoom(t *testing.T) {
	r, d, _ := newTestClient(t)

	err := r.Publish(context.Background(), contracts.KindQuotes, contracts.WildcardRoom, contracts.StockQuote{})

	assert.ErrorIs(t, err, contracts.ErrInvalidMessage)
	assert.Zero(t, d.dials())
}

func TestSubscribe_DeclaresEphemeralQueuePerSubscriber(t *testing.T) {
	r, d, _ := newTestClient(t)
	ctx := context.Background()
	noop := func(context.Context, Delivery) error { return nil }

	first, err := r.Subscribe(ctx, contracts.KindCommands, contracts.WildcardRoom, noop)
	require.NoError(t, err)
	second, err := r.Subscribe(ctx, contracts.KindCommands, contracts.WildcardRoom, noop)
	require.NoError(t, err)

	assert.NotEqual(t, first.Queue, second.Queue)

	queues, bindings, _ := d.last().channel().snapshot()
	require.Len(t, queues, 2)
	for _, q := range queues {
		assert.False(t, q.durable)
		assert.True(t, q.autoDelete)
		assert.True(t, q.exclusive)
	}
	require.Len(t, bindings, 2)
	for _, b := range bindings {
		assert.Equal(t, "room.*.commands", b.key)
		assert.Equal(t, "chat_exchange", b.exchange)
	}
}

func TestSubscribe_FailsWhenBrokerDown(t *testing.T) {
	r, d, _ := newTestClient(t)
	d.err = errors.New("connection refused")

	_, err := r.Subscribe(context.Background(), contracts.KindQuotes, "lobby", func(context.Context, Delivery) error { return nil })

	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestSubscribe_HandlerFailuresDoNotStopConsuming(t *testing.T) {
	r, d, logger := newTestClient(t)

	var mu sync.Mutex
	var seen []string
	var keys []string
	handler := func(_ context.Context, d Delivery) error {
		mu.Lock()
		seen = append(seen, string(d.Body))
		keys = append(keys, d.RoutingKey)
		mu.Unlock()

		switch string(d.Body) {
		case "panic":
			panic("boom")
		case "malformed":
			return fmt.Errorf("decode: %w", ErrMalformedMessage)
		case "fail":
			return errors.New("storage down")
		}
		return nil
	}

	sub, err := r.Subscribe(context.Background(), contracts.KindQuotes, "lobby", handler)
	require.NoError(t, err)

	ch := d.last().channel()
	for _, body := range []string{"panic", "malformed", "fail", "ok"} {
		require.NoError(t, ch.deliver(sub.Queue, "room.lobby.quotes", []byte(body)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"panic", "malformed", "fail", "ok"}, seen)
	assert.Equal(t, []string{"room.lobby.quotes", "room.lobby.quotes", "room.lobby.quotes", "room.lobby.quotes"}, keys)
	require.Eventually(t, func() bool {
		return logger.Count("warn", logging.MalformedMsg) == 1 && logger.Count("error", logging.Consume) == 2
	}, time.Second, 5*time.Millisecond)

	select {
	case <-sub.Done():
		t.Fatal("subscription ended after handler failures")
	default:
	}
}

func TestSubscribe_EndsWhenBrokerDropsConnection(t *testing.T) {
	r, d, _ := newTestClient(t)

	sub, err := r.Subscribe(context.Background(), contracts.KindCommands, contracts.WildcardRoom, func(context.Context, Delivery) error { return nil })
	require.NoError(t, err)

	d.last().drop()

	select {
	case <-sub.Done():
		assert.ErrorIs(t, sub.Err(), ErrSubscriptionEnded)
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
}

func TestSubscribe_UnsubscribeCancelsConsumer(t *testing.T) {
	r, d, _ := newTestClient(t)

	sub, err := r.Subscribe(context.Background(), contracts.KindQuotes, "tech", func(context.Context, Delivery) error { return nil })
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case <-sub.Done():
		assert.NoError(t, sub.Err())
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
	assert.Equal(t, []string{sub.Queue}, d.last().channel().cancelled)
}

func TestSubscribe_ContextCancelEndsSubscription(t *testing.T) {
	r, _, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := r.Subscribe(ctx, contracts.KindQuotes, "tech", func(context.Context, Delivery) error { return nil })
	require.NoError(t, err)

	cancel()

	select {
	case <-sub.Done():
		assert.ErrorIs(t, sub.Err(), context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
}

func TestClose_ChannelThenConnectionAndIdempotent(t *testing.T) {
	r, d, _ := newTestClient(t)
	require.NoError(t, r.EnsureConnected(context.Background()))

	r.Close()
	r.Close()

	assert.Equal(t, []string{"channel.close", "conn.close"}, d.events.all())
}

func TestClose_SwallowsErrors(t *testing.T) {
	r, d, logger := newTestClient(t)
	require.NoError(t, r.EnsureConnected(context.Background()))
	d.last().channel().closeErr = errors.New("channel already gone")
	d.last().closeErr = errors.New("socket reset")

	assert.NotPanics(t, r.Close)
	assert.Equal(t, 2, logger.Count("warn", logging.Shutdown))
}

func TestClose_ThenPublishReconnects(t *testing.T) {
	r, d, _ := newTestClient(t)
	require.NoError(t, r.EnsureConnected(context.Background()))

	r.Close()
	require.NoError(t, r.Publish(context.Background(), contracts.KindQuotes, "lobby", contracts.StockQuote{}))

	assert.Equal(t, 2, d.dials())
}

func TestHeaderCarrier(t *testing.T) {
	h := amqp.Table{"count": int32(3)}
	c := headerCarrier(h)

	c.Set("traceparent", "00-abc-def-01")

	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Empty(t, c.Get("count"))
	assert.Empty(t, c.Get("missing"))
	assert.ElementsMatch(t, []string{"count", "traceparent"}, c.Keys())
}
