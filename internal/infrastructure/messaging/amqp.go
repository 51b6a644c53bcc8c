package messaging

import (
	"context"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dialTimeout = 30 * time.Second
	heartbeat   = 10 * time.Second
)

// Connection is the part of *amqp.Connection the client relies on.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Channel is the part of *amqp.Channel the client relies on.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
	IsClosed() bool
	Close() error
}

// Dialer opens a broker connection. It must give up when ctx is done.
type Dialer func(ctx context.Context, uri string) (Connection, error)

// DialAMQP opens a real broker connection. Cancelling ctx aborts both the
// TCP dial and the AMQP handshake.
func DialAMQP(ctx context.Context, uri string) (Connection, error) {
	var (
		stop    = make(chan struct{})
		stopped = make(chan struct{})
		watched bool
	)

	conn, err := amqp.DialConfig(uri, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := &net.Dialer{Timeout: dialTimeout}
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := c.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
				_ = c.Close()
				return nil, err
			}
			watched = true
			go abortHandshake(ctx, c, stop, stopped)
			return c, nil
		},
	})

	close(stop)
	if watched {
		<-stopped
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = conn.Close()
		return nil, ctxErr
	}
	return &amqpConnection{conn: conn}, nil
}

// abortHandshake expires the deadline of c when ctx ends before stop is
// closed.
func abortHandshake(ctx context.Context, c net.Conn, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	select {
	case <-ctx.Done():
		_ = c.SetDeadline(time.Now())
	case <-stop:
	}
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}
