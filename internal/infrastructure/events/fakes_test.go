package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging"
)

type fakeQuoteSource struct {
	mu     sync.Mutex
	quotes map[string]string
	err    error
	panics bool
	calls  []string
}

func (s *fakeQuoteSource) GetQuote(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, code)
	if s.panics {
		panic("quote source exploded")
	}
	if s.err != nil {
		return "", s.err
	}
	return s.quotes[code], nil
}

type broadcast struct {
	Author string
	Text   string
	At     time.Time
	RoomID string
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcast
	err   error
}

func (b *fakeBroadcaster) BroadcastQuote(_ context.Context, author, text string, at time.Time, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return b.err
	}
	b.calls = append(b.calls, broadcast{Author: author, Text: text, At: at, RoomID: roomID})
	return nil
}

func (b *fakeBroadcaster) all() []broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcast(nil), b.calls...)
}

type failingMessages struct{}

func (failingMessages) AddMessage(context.Context, *domain.Message) (*domain.Message, error) {
	return nil, errors.New("disk full")
}

func (failingMessages) GetLastMessages(context.Context, int, string) ([]domain.Message, error) {
	return nil, nil
}

// recordingBroker wraps a broker and can fail publishes. It counts every
// Publish attempt.
type recordingBroker struct {
	mu        sync.Mutex
	errs      []error
	attempts  int
	published []contracts.StockQuote
	closed    int
}

func (b *recordingBroker) Publish(_ context.Context, _ contracts.MessageKind, _ string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return err
		}
	}
	b.published = append(b.published, payload.(contracts.StockQuote))
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, contracts.MessageKind, string, messaging.Handler) (*messaging.Subscription, error) {
	return nil, messaging.ErrBrokerUnavailable
}

func (b *recordingBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
}
