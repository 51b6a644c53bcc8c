package messaging

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	conns []*fakeConn
	// events is shared with every connection and channel to record close order
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{events: &eventLog{}}
}

func (d *fakeDialer) dial(context.Context, string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{events: d.events}
	d.conns = append(d.conns, c)
	return c, nil
}

// blockingDial waits until its context ends, like a dial to an
// unreachable host.
func blockingDial(ctx context.Context, _ string) (Connection, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	closeErr error
	chanErr  error
	channels []*fakeChannel
	events   *eventLog
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chanErr != nil {
		return nil, c.chanErr
	}
	ch := &fakeChannel{events: c.events, consumers: map[string]chan amqp.Delivery{}}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events.add("conn.close")
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	return c.closeErr
}

// drop simulates the broker going away: every consumer channel is closed.
func (c *fakeConn) drop() {
	c.mu.Lock()
	c.closed = true
	channels := append([]*fakeChannel(nil), c.channels...)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.drop()
	}
}

func (c *fakeConn) channel() *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[len(c.channels)-1]
}

type declaredExchange struct {
	name    string
	kind    string
	durable bool
}

type declaredQueue struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
}

type binding struct {
	queue, key, exchange string
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	closed     bool
	closeErr   error
	publishErr error
	declareErr error

	exchanges []declaredExchange
	queues    []declaredQueue
	bindings  []binding
	published []published
	consumers map[string]chan amqp.Delivery
	cancelled []string
	events    *eventLog
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.declareErr != nil {
		return c.declareErr
	}
	c.exchanges = append(c.exchanges, declaredExchange{name: name, kind: kind, durable: durable})
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queues = append(c.queues, declaredQueue{name: name, durable: durable, autoDelete: autoDelete, exclusive: exclusive})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bindings = append(c.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func (c *fakeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := make(chan amqp.Delivery, 16)
	c.consumers[queue] = d
	return d, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Cancel(consumer string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelled = append(c.cancelled, consumer)
	if d, ok := c.consumers[consumer]; ok {
		close(d)
		delete(c.consumers, consumer)
	}
	return nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events.add("channel.close")
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	return c.closeErr
}

func (c *fakeChannel) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for q, d := range c.consumers {
		close(d)
		delete(c.consumers, q)
	}
}

// deliver pushes a body to the consumer of queue.
func (c *fakeChannel) deliver(queue, key string, body []byte) error {
	c.mu.Lock()
	d, ok := c.consumers[queue]
	c.mu.Unlock()

	if !ok {
		return errors.New("no consumer for " + queue)
	}
	d <- amqp.Delivery{RoutingKey: key, Body: body}
	return nil
}

func (c *fakeChannel) snapshot() (queues []declaredQueue, bindings []binding, pubs []published) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(queues, c.queues...), append(bindings, c.bindings...), append(pubs, c.published...)
}
