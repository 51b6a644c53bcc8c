// Package messagingtest provides an in-process topic broker that behaves
// like the RabbitMQ client for tests: topic matching with * and #, one
// queue per subscriber and asynchronous delivery.
package messagingtest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging"
)

// Message is a published message as seen by the broker.
type Message struct {
	Kind       contracts.MessageKind
	RoomID     string
	RoutingKey string
	Body       []byte
}

// Decode unmarshals the body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Body, v)
}

type subscriber struct {
	pattern string
	sub     *messaging.Subscription
	queue   chan Message
}

type Broker struct {
	mu          sync.Mutex
	subscribers []*subscriber
	published   []Message

	publishErrs    []error
	subscribeErr   error
	closeCalls     int
	publishCalls   int
	subscribeCalls int
}

var _ messaging.Broker = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{}
}

// FailPublish makes the next len(errs) Publish calls return errs in order.
func (b *Broker) FailPublish(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErrs = append(b.publishErrs, errs...)
}

// FailSubscribe makes every Subscribe call return err until reset with nil.
func (b *Broker) FailSubscribe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeErr = err
}

func (b *Broker) Publish(_ context.Context, kind contracts.MessageKind, roomID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.publishCalls++
	if len(b.publishErrs) > 0 {
		err := b.publishErrs[0]
		b.publishErrs = b.publishErrs[1:]
		if err != nil {
			b.mu.Unlock()
			return err
		}
	}

	msg := Message{
		Kind:       kind,
		RoomID:     roomID,
		RoutingKey: contracts.RoutingKey(kind, roomID),
		Body:       body,
	}
	b.published = append(b.published, msg)

	var targets []*subscriber
	for _, s := range b.subscribers {
		if MatchTopic(s.pattern, msg.RoutingKey) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case <-s.sub.Done():
		case s.queue <- msg:
		}
	}

	return nil
}

func (b *Broker) Subscribe(ctx context.Context, kind contracts.MessageKind, roomID string, handler messaging.Handler) (*messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribeCalls++
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}

	s := &subscriber{
		pattern: contracts.RoutingKey(kind, roomID),
		queue:   make(chan Message, 256),
	}
	s.sub = messaging.NewSubscription(kind, roomID, fmt.Sprintf("test.%s.%s", kind, uuid.NewString()), nil)
	b.subscribers = append(b.subscribers, s)

	go b.deliver(ctx, s, handler)

	return s.sub, nil
}

func (b *Broker) deliver(ctx context.Context, s *subscriber, handler messaging.Handler) {
	defer b.remove(s)

	for {
		select {
		case <-ctx.Done():
			s.sub.End(ctx.Err())
			return
		case <-s.sub.Stopping():
			s.sub.End(nil)
			return
		case <-s.sub.Done():
			return
		case msg := <-s.queue:
			func() {
				defer func() { _ = recover() }()
				_ = handler(ctx, messaging.Delivery{RoutingKey: msg.RoutingKey, Body: msg.Body})
			}()
		}
	}
}

func (b *Broker) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.subscribers {
		if existing == s {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// DropSubscriptions ends every live subscription as if the broker
// connection had been lost.
func (b *Broker) DropSubscriptions() {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subscribers...)
	b.mu.Unlock()

	for _, s := range subs {
		s.sub.End(messaging.ErrSubscriptionEnded)
		b.remove(s)
	}
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCalls++
}

// Published returns every successfully published message, optionally
// filtered by kind.
func (b *Broker) Published(kind contracts.MessageKind) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Message
	for _, m := range b.published {
		if kind == "" || m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (b *Broker) PublishCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishCalls
}

func (b *Broker) SubscribeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeCalls
}

func (b *Broker) CloseCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCalls
}

func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// MatchTopic reports whether a routing key matches an AMQP topic pattern.
// * matches exactly one word, # matches zero or more.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
