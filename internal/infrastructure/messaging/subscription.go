package messaging

import (
	"sync"

	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
)

// Subscription is one consumer bound to its own queue. It ends when the
// caller unsubscribes, the subscribe context is cancelled or the broker
// stops delivering.
type Subscription struct {
	Kind   contracts.MessageKind
	RoomID string
	Queue  string

	cancel   func()
	stop     chan struct{}
	stopOnce sync.Once

	done    chan struct{}
	endOnce sync.Once
	err     error
}

// NewSubscription is exported for broker implementations outside this
// package, such as test doubles.
func NewSubscription(kind contracts.MessageKind, roomID, queue string, cancel func()) *Subscription {
	return &Subscription{
		Kind:   kind,
		RoomID: roomID,
		Queue:  queue,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Unsubscribe stops consuming. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Stopping is closed once Unsubscribe has been called.
func (s *Subscription) Stopping() <-chan struct{} {
	return s.stop
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is nil for a subscription ended by Unsubscribe. It must only be read
// after Done is closed.
func (s *Subscription) Err() error {
	return s.err
}

// End marks the subscription finished. Only the first call has effect.
func (s *Subscription) End(err error) {
	s.endOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}
