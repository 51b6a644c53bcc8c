package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hilthontt/stockchat/internal/infrastructure/contracts"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging"
)

// runSubscription subscribes handler and blocks until ctx is cancelled or
// the subscription ends. The broker is closed on every exit path.
func runSubscription(
	ctx context.Context,
	name string,
	broker messaging.Broker,
	logger logging.Logger,
	kind contracts.MessageKind,
	handler messaging.Handler,
) error {
	defer broker.Close()

	sub, err := broker.Subscribe(ctx, kind, contracts.WildcardRoom, handler)
	if err != nil {
		return fmt.Errorf("%s: subscribe: %w", name, err)
	}

	logger.Info(logging.Worker, logging.Startup, "worker listening", map[logging.ExtraKey]any{
		logging.WorkerName: name,
		logging.Queue:      sub.Queue,
	})

	select {
	case <-ctx.Done():
		sub.Unsubscribe()
		return ctx.Err()
	case <-sub.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sub.Err(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: %w", name, messaging.ErrSubscriptionEnded)
	}
}

// roomOf resolves the room a delivery belongs to. The routing key is
// authoritative: an empty payload room takes the key's room and a payload
// naming a different room is malformed.
func roomOf(d messaging.Delivery, kind contracts.MessageKind, payloadRoom string) (string, error) {
	keyKind, keyRoom, err := contracts.ParseRoutingKey(d.RoutingKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", messaging.ErrMalformedMessage, err)
	}
	if keyKind != kind {
		return "", fmt.Errorf("%w: %s delivered on %q", messaging.ErrMalformedMessage, kind, d.RoutingKey)
	}
	if payloadRoom == "" {
		return keyRoom, nil
	}
	if payloadRoom != keyRoom {
		return "", fmt.Errorf("%w: room %q does not match routing key %q", messaging.ErrMalformedMessage, payloadRoom, d.RoutingKey)
	}
	return payloadRoom, nil
}

func decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("%w: %w", messaging.ErrMalformedMessage, err)
	}
	return v, nil
}
