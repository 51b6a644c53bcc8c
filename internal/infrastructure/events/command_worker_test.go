package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging"
	"github.com/hilthontt/stockchat/internal/infrastructure/stock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commandBody(t *testing.T, code, user, room string) []byte {
	t.Helper()
	body, err := json.Marshal(contracts.StockCommand{StockCode: code, Username: user, RoomID: room, Timestamp: time.Now()})
	require.NoError(t, err)
	return body
}

func commandOn(room string, body []byte) messaging.Delivery {
	return messaging.Delivery{RoutingKey: contracts.RoutingKey(contracts.KindCommands, room), Body: body}
}

func newCommandWorker(broker messaging.Broker, source stock.QuoteSource) (*CommandWorker, *logging.RecordingLogger) {
	logger := logging.NewRecordingLogger()
	return NewCommandWorker(broker, source, logger, nil, CommandWorkerConfig{RetryDelay: time.Millisecond}), logger
}

func TestHandleCommand_Success(t *testing.T) {
	broker := &recordingBroker{}
	source := &fakeQuoteSource{quotes: map[string]string{"aapl": "AAPL quote is $123.45 per share"}}
	w, _ := newCommandWorker(broker, source)

	require.NoError(t, w.HandleCommand(context.Background(), commandOn("lobby", commandBody(t, "aapl", "john", "lobby"))))

	require.Len(t, broker.published, 1)
	q := broker.published[0]
	assert.Equal(t, "aapl", q.StockCode)
	assert.Contains(t, q.Quote, "AAPL quote is $123.45")
	assert.Equal(t, "john", q.Username)
	assert.Equal(t, "lobby", q.RoomID)
}

func TestHandleCommand_NotFound(t *testing.T) {
	broker := &recordingBroker{}
	w, _ := newCommandWorker(broker, &fakeQuoteSource{})

	require.NoError(t, w.HandleCommand(context.Background(), commandOn("tech", commandBody(t, "zzzz", "john", "tech"))))

	require.Len(t, broker.published, 1)
	q := broker.published[0]
	assert.Contains(t, q.Quote, "couldn't find")
	assert.Contains(t, q.Quote, "ZZZZ")
	assert.Equal(t, "tech", q.RoomID)
}

func TestHandleCommand_SourceErrorBecomesErrorText(t *testing.T) {
	broker := &recordingBroker{}
	w, logger := newCommandWorker(broker, &fakeQuoteSource{err: fmt.Errorf("%w: timeout", stock.ErrQuoteSource)})

	require.NoError(t, w.HandleCommand(context.Background(), commandOn("lobby", commandBody(t, "msft", "ana", "lobby"))))

	require.Len(t, broker.published, 1)
	assert.Contains(t, broker.published[0].Quote, "error")
	assert.Contains(t, broker.published[0].Quote, "try again")
	assert.Equal(t, 1, logger.Count("error", logging.QuoteLookup))
}

func TestHandleCommand_SourcePanicBecomesErrorText(t *testing.T) {
	broker := &recordingBroker{}
	w, _ := newCommandWorker(broker, &fakeQuoteSource{panics: true})

	assert.NotPanics(t, func() {
		require.NoError(t, w.HandleCommand(context.Background(), commandOn("lobby", commandBody(t, "msft", "ana", "lobby"))))
	})

	require.Len(t, broker.published, 1)
	assert.Equal(t, ErrorText("msft"), broker.published[0].Quote)
}

func TestHandleCommand_RetriesPublishOnce(t *testing.T) {
	broker := &recordingBroker{errs: []error{messaging.ErrBrokerUnavailable}}
	w, logger := newCommandWorker(broker, &fakeQuoteSource{quotes: map[string]string{"aapl": "AAPL quote is $1.00 per share"}})

	require.NoError(t, w.HandleCommand(context.Background(), commandOn("lobby", commandBody(t, "aapl", "john", "lobby"))))

	assert.Equal(t, 2, broker.attempts)
	assert.Len(t, broker.published, 1)
	assert.Equal(t, 1, logger.Count("warn", logging.Publish))
}

func TestHandleCommand_DropsAfterSecondFailure(t *testing.T) {
	broker := &recordingBroker{errs: []error{messaging.ErrBrokerUnavailable, messaging.ErrBrokerUnavailable, messaging.ErrBrokerUnavailable}}
	w, logger := newCommandWorker(broker, &fakeQuoteSource{quotes: map[string]string{"aapl": "AAPL quote is $1.00 per share"}})

	require.NoError(t, w.HandleCommand(context.Background(), commandOn("lobby", commandBody(t, "aapl", "john", "lobby"))))

	assert.Equal(t, 2, broker.attempts)
	assert.Empty(t, broker.published)
	assert.Equal(t, 1, logger.Count("error", logging.Publish))
}

func TestHandleCommand_NonBrokerPublishErrorIsNotRetried(t *testing.T) {
	broker := &recordingBroker{errs: []error{errors.New("json: unsupported value")}}
	w, _ := newCommandWorker(broker, &fakeQuoteSource{})

	require.NoError(t, w.HandleCommand(context.Background(), commandOn("lobby", commandBody(t, "aapl", "john", "lobby"))))

	assert.Equal(t, 1, broker.attempts)
}

func TestHandleCommand_MalformedBody(t *testing.T) {
	w, _ := newCommandWorker(&recordingBroker{}, &fakeQuoteSource{})

	err := w.HandleCommand(context.Background(), commandOn("lobby", []byte("{not json")))
	assert.ErrorIs(t, err, messaging.ErrMalformedMessage)

	err = w.HandleCommand(context.Background(), commandOn("lobby", commandBody(t, " ", "john", "lobby")))
	assert.ErrorIs(t, err, messaging.ErrMalformedMessage)
}

func TestHandleCommand_PassesCodeThroughUnvalidated(t *testing.T) {
	broker := &recordingBroker{}
	source := &fakeQuoteSource{}
	w, _ := newCommandWorker(broker, source)

	require.NoError(t, w.HandleCommand(context.Background(), commandOn("lobby", commandBody(t, "brk-b 123", "john", ""))))

	assert.Equal(t, []string{"brk-b 123"}, source.calls)
	require.Len(t, broker.published, 1)
	assert.Equal(t, "lobby", broker.published[0].RoomID)
}

func TestHandleCommand_EmptyRoomTakesRoutingKeyRoom(t *testing.T) {
	broker := &recordingBroker{}
	w, _ := newCommandWorker(broker, &fakeQuoteSource{quotes: map[string]string{"aapl": "AAPL quote is $1.00 per share"}})

	body := []byte(`{"stockCode":"aapl","username":"john"}`)
	require.NoError(t, w.HandleCommand(context.Background(), commandOn("tech", body)))

	require.Len(t, broker.published, 1)
	assert.Equal(t, "tech", broker.published[0].RoomID)
}

func TestHandleCommand_RoomMismatchIsMalformed(t *testing.T) {
	broker := &recordingBroker{}
	source := &fakeQuoteSource{}
	w, _ := newCommandWorker(broker, source)

	err := w.HandleCommand(context.Background(), commandOn("tech", commandBody(t, "aapl", "john", "lobby")))

	assert.ErrorIs(t, err, messaging.ErrMalformedMessage)
	assert.Empty(t, source.calls)
	assert.Zero(t, broker.attempts)
}

func TestHandleCommand_WrongKindOrBadKeyIsMalformed(t *testing.T) {
	w, _ := newCommandWorker(&recordingBroker{}, &fakeQuoteSource{})
	body := commandBody(t, "aapl", "john", "lobby")

	for _, key := range []string{"room.lobby.quotes", "lobby", ""} {
		err := w.HandleCommand(context.Background(), messaging.Delivery{RoutingKey: key, Body: body})
		assert.ErrorIs(t, err, messaging.ErrMalformedMessage, key)
	}
}

func TestCommandWorker_RunSurfacesSubscribeFailureAndCloses(t *testing.T) {
	broker := &recordingBroker{}
	w, _ := newCommandWorker(broker, &fakeQuoteSource{})

	err := w.Run(context.Background())

	assert.ErrorIs(t, err, messaging.ErrBrokerUnavailable)
	assert.Equal(t, 1, broker.closed)
}
