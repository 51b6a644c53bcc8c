package contracts

import (
	"fmt"
	"strings"
)

type MessageKind string

const (
	KindCommands MessageKind = "commands"
	KindQuotes   MessageKind = "quotes"
)

// WildcardRoom binds a subscription to every room.
const WildcardRoom = "*"

const routingPrefix = "room"

func (k MessageKind) Valid() bool {
	return k == KindCommands || k == KindQuotes
}

// RoutingKey builds room.<roomID>.<kind>.
func RoutingKey(kind MessageKind, roomID string) string {
	return routingPrefix + "." + roomID + "." + string(kind)
}

// ParseRoutingKey splits a concrete routing key back into kind and room.
func ParseRoutingKey(key string) (MessageKind, string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != routingPrefix || parts[1] == "" {
		return "", "", fmt.Errorf("%w: malformed routing key %q", ErrInvalidMessage, key)
	}

	kind := MessageKind(parts[2])
	if !kind.Valid() {
		return "", "", fmt.Errorf("%w: unknown message kind %q", ErrInvalidMessage, parts[2])
	}

	return kind, parts[1], nil
}
