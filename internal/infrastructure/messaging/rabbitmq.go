package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultExchange = "chat_exchange"

// Delivery is one consumed message with the routing key it arrived on.
type Delivery struct {
	RoutingKey string
	Body       []byte
}

// Handler processes one delivery. Returning an error wrapping
// ErrMalformedMessage marks the message as skipped.
type Handler func(ctx context.Context, d Delivery) error

// Broker is the publish/subscribe surface the workers depend on.
type Broker interface {
	Publish(ctx context.Context, kind contracts.MessageKind, roomID string, payload any) error
	Subscribe(ctx context.Context, kind contracts.MessageKind, roomID string, handler Handler) (*Subscription, error)
	Close()
}

type Config struct {
	URI      string
	Exchange string
}

type Option func(*RabbitMQ)

// WithDialer replaces the function used to open broker connections.
func WithDialer(d Dialer) Option {
	return func(r *RabbitMQ) {
		r.dial = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *RabbitMQ) {
		r.metrics = m
	}
}

// RabbitMQ publishes to and consumes from a single topic exchange. The
// connection is opened on first use and re-opened when found closed. All
// channel operations are serialized by mu.
type RabbitMQ struct {
	cfg     Config
	dial    Dialer
	logger  logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu   sync.Mutex
	conn Connection
	ch   Channel

	// dialMu guards dialCancel, which aborts an in-flight dial so Close
	// does not wait behind it on mu.
	dialMu     sync.Mutex
	dialCancel context.CancelFunc
}

var _ Broker = (*RabbitMQ)(nil)

func NewRabbitMQ(cfg Config, logger logging.Logger, opts ...Option) *RabbitMQ {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}

	r := &RabbitMQ{
		cfg:    cfg,
		dial:   DialAMQP,
		logger: logger,
		tracer: otel.Tracer("stockchat/messaging"),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// EnsureConnected opens the connection and channel if needed and declares
// the exchange. Failures are returned, never retried here.
func (r *RabbitMQ) EnsureConnected(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.ensureConnectedLocked(ctx)
}

func (r *RabbitMQ) ensureConnectedLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.conn != nil && !r.conn.IsClosed() && r.ch != nil && !r.ch.IsClosed() {
		return nil
	}

	if r.conn == nil || r.conn.IsClosed() {
		r.closeLocked()

		conn, err := r.dialCancelable(ctx)
		if err != nil {
			r.logger.Error(logging.RabbitMQ, logging.Connection, "failed to connect to broker", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
			return fmt.Errorf("%w: dial: %w", ErrBrokerUnavailable, err)
		}
		r.conn = conn
		r.metrics.Connected()
		r.logger.Info(logging.RabbitMQ, logging.Connection, "connected to broker", nil)
	}

	ch, err := r.conn.Channel()
	if err != nil {
		r.closeLocked()
		return fmt.Errorf("%w: open channel: %w", ErrBrokerUnavailable, err)
	}

	if err := ch.ExchangeDeclare(
		r.cfg.Exchange,     // name
		amqp.ExchangeTopic, // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	); err != nil {
		_ = ch.Close()
		r.closeLocked()
		return fmt.Errorf("%w: declare exchange %s: %w", ErrBrokerUnavailable, r.cfg.Exchange, err)
	}

	r.ch = ch
	return nil
}

func (r *RabbitMQ) dialCancelable(ctx context.Context) (Connection, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.dialMu.Lock()
	r.dialCancel = cancel
	r.dialMu.Unlock()

	defer func() {
		r.dialMu.Lock()
		r.dialCancel = nil
		r.dialMu.Unlock()
	}()

	return r.dial(dialCtx, r.cfg.URI)
}

// Publish serializes payload as JSON and routes it by room and kind.
func (r *RabbitMQ) Publish(ctx context.Context, kind contracts.MessageKind, roomID string, payload any) error {
	if err := checkPublishRoom(roomID); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	key := contracts.RoutingKey(kind, roomID)

	ctx, span := r.tracer.Start(ctx, "publish "+key,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", r.cfg.Exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", key),
		),
	)
	defer span.End()

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         string(kind),
		Headers:      headers,
		Body:         body,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureConnectedLocked(ctx); err != nil {
		r.metrics.Published(string(kind), metrics.OutcomeFailed)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := r.ch.PublishWithContext(ctx, r.cfg.Exchange, key, false, false, msg); err != nil {
		r.metrics.Published(string(kind), metrics.OutcomeFailed)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: publish %s: %w", ErrBrokerUnavailable, key, err)
	}

	r.metrics.Published(string(kind), metrics.OutcomeOK)
	r.logger.Debug(logging.RabbitMQ, logging.Publish, "message published", map[logging.ExtraKey]any{
		logging.RoutingKey: key,
	})

	return nil
}

// Subscribe declares an exclusive auto-delete queue for this caller alone,
// binds it to room.<roomID>.<kind> and starts consuming with auto-ack.
// Every subscription receives every matching message. Pass
// contracts.WildcardRoom to listen on all rooms.
func (r *RabbitMQ) Subscribe(ctx context.Context, kind contracts.MessageKind, roomID string, handler Handler) (*Subscription, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown message kind %q", contracts.ErrInvalidMessage, kind)
	}
	if roomID == "" {
		return nil, fmt.Errorf("%w: room is required", contracts.ErrInvalidMessage)
	}

	r.mu.Lock()
	queue, deliveries, err := r.subscribeLocked(ctx, kind, roomID)
	r.mu.Unlock()
	if err != nil {
		r.logger.Error(logging.RabbitMQ, logging.Subscribe, "failed to subscribe", map[logging.ExtraKey]any{
			logging.RoutingKey:   contracts.RoutingKey(kind, roomID),
			logging.ErrorMessage: err.Error(),
		})
		return nil, err
	}

	sub := NewSubscription(kind, roomID, queue, func() { r.cancelConsumer(queue) })
	go r.consume(ctx, sub, deliveries, handler)

	r.logger.Info(logging.RabbitMQ, logging.Subscribe, "subscribed", map[logging.ExtraKey]any{
		logging.RoutingKey: contracts.RoutingKey(kind, roomID),
		logging.Queue:      queue,
	})

	return sub, nil
}

func (r *RabbitMQ) subscribeLocked(ctx context.Context, kind contracts.MessageKind, roomID string) (string, <-chan amqp.Delivery, error) {
	if err := r.ensureConnectedLocked(ctx); err != nil {
		return "", nil, err
	}

	q, err := r.ch.QueueDeclare(
		queueName(kind, roomID), // name
		false,                   // durable
		true,                    // delete when unused
		true,                    // exclusive
		false,                   // no-wait
		nil,                     // arguments
	)
	if err != nil {
		return "", nil, fmt.Errorf("%w: declare queue: %w", ErrBrokerUnavailable, err)
	}

	key := contracts.RoutingKey(kind, roomID)
	if err := r.ch.QueueBind(q.Name, key, r.cfg.Exchange, false, nil); err != nil {
		return "", nil, fmt.Errorf("%w: bind %s to %s: %w", ErrBrokerUnavailable, q.Name, key, err)
	}

	deliveries, err := r.ch.Consume(
		q.Name, // queue
		q.Name, // consumer tag
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return "", nil, fmt.Errorf("%w: consume %s: %w", ErrBrokerUnavailable, q.Name, err)
	}

	return q.Name, deliveries, nil
}

func (r *RabbitMQ) consume(ctx context.Context, sub *Subscription, deliveries <-chan amqp.Delivery, handler Handler) {
	defer func() {
		// unblock the library if it is still handing us deliveries
		go func() {
			for range deliveries {
			}
		}()
	}()

	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			sub.End(ctx.Err())
			return
		case <-sub.Stopping():
			sub.End(nil)
			return
		case d, ok := <-deliveries:
			if !ok {
				select {
				case <-sub.Stopping():
					sub.End(nil)
				default:
					r.logger.Warn(logging.RabbitMQ, logging.Consume, "delivery channel closed by broker", map[logging.ExtraKey]any{
						logging.Queue: sub.Queue,
					})
					sub.End(ErrSubscriptionEnded)
				}
				return
			}
			r.dispatch(ctx, sub, d, handler)
		}
	}
}

// dispatch runs the handler for one delivery. Panics and errors are logged
// and never stop the consume loop.
func (r *RabbitMQ) dispatch(ctx context.Context, sub *Subscription, d amqp.Delivery, handler Handler) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	ctx, span := r.tracer.Start(ctx, "consume "+d.RoutingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.message.id", d.MessageId),
			attribute.String("messaging.rabbitmq.destination.routing_key", d.RoutingKey),
		),
	)
	defer span.End()

	kind := string(sub.Kind)
	extra := map[logging.ExtraKey]any{
		logging.RoutingKey: d.RoutingKey,
		logging.Queue:      sub.Queue,
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.Consumed(kind, metrics.OutcomePanic)
			span.SetStatus(codes.Error, "handler panic")
			extra[logging.ErrorMessage] = fmt.Sprint(rec)
			r.logger.Error(logging.RabbitMQ, logging.Consume, "message handler panicked", extra)
		}
	}()

	err := handler(ctx, Delivery{RoutingKey: d.RoutingKey, Body: d.Body})
	switch {
	case err == nil:
		r.metrics.Consumed(kind, metrics.OutcomeOK)
	case errors.Is(err, ErrMalformedMessage):
		r.metrics.Consumed(kind, metrics.OutcomeMalformed)
		extra[logging.ErrorMessage] = err.Error()
		r.logger.Warn(logging.RabbitMQ, logging.MalformedMsg, "skipping malformed message", extra)
	default:
		r.metrics.Consumed(kind, metrics.OutcomeFailed)
		span.SetStatus(codes.Error, err.Error())
		extra[logging.ErrorMessage] = err.Error()
		r.logger.Error(logging.RabbitMQ, logging.Consume, "message handler failed", extra)
	}
}

func (r *RabbitMQ) cancelConsumer(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil || r.ch.IsClosed() {
		return
	}
	if err := r.ch.Cancel(tag, false); err != nil {
		r.logger.Warn(logging.RabbitMQ, logging.Subscribe, "failed to cancel consumer", map[logging.ExtraKey]any{
			logging.Queue:        tag,
			logging.ErrorMessage: err.Error(),
		})
	}
}

// Close closes the channel, then the connection. A dial in progress is
// aborted first. Errors are logged and swallowed. Safe to call repeatedly;
// a later Publish or Subscribe reconnects.
func (r *RabbitMQ) Close() {
	r.dialMu.Lock()
	if r.dialCancel != nil {
		r.dialCancel()
	}
	r.dialMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
}

func (r *RabbitMQ) closeLocked() {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			r.logger.Warn(logging.RabbitMQ, logging.Shutdown, "failed to close channel", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		r.ch = nil
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			r.logger.Warn(logging.RabbitMQ, logging.Shutdown, "failed to close connection", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		r.conn = nil
	}
}

func checkPublishRoom(roomID string) error {
	if roomID == "" || strings.ContainsAny(roomID, ".*#") {
		return fmt.Errorf("%w: cannot publish to room %q", contracts.ErrInvalidMessage, roomID)
	}
	return nil
}

func queueName(kind contracts.MessageKind, roomID string) string {
	if roomID == contracts.WildcardRoom {
		roomID = "all"
	}
	return fmt.Sprintf("stockchat.%s.%s.%s", kind, roomID, uuid.NewString())
}
