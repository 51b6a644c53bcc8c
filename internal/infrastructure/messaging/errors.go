package messaging

import "errors"

var (
	// ErrBrokerUnavailable wraps connection, publish and subscribe I/O failures.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrMalformedMessage marks an inbound payload that could not be decoded.
	// Handlers return it to have the delivery skipped and logged.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrSubscriptionEnded is reported when the broker stops delivering to a
	// subscription that nobody cancelled.
	ErrSubscriptionEnded = errors.New("subscription ended")
)
