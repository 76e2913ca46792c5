package vitalrelay

import (
	"context"
	"net/http"
	"time"
)

// Outcome is the HTTP result of delivering one message.
type Outcome struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	// Attempts is the number of HTTP exchanges made for the message: 0 when the transport failed
	// before any response, 2 when a 401 forced a credential refresh.
	Attempts int
	// Transport holds the network or timeout failure, if any.
	Transport error
	// Invalid is set when the gateway refused to send the message because its payload cannot be
	// framed. The message is rejected like a 400.
	Invalid error
}

// Success reports a 2xx outcome.
func (o Outcome) Success() bool {
	return o.Invalid == nil && o.Transport == nil && o.StatusCode >= 200 && o.StatusCode < 300
}

// Err maps the outcome onto the delivery error taxonomy. It returns nil on success.
func (o Outcome) Err() error {
	switch {
	case o.Invalid != nil:
		return &RejectedError{Err: o.Invalid}
	case o.Transport != nil:
		return &TransportError{Err: o.Transport}
	case o.Success():
		return nil
	case o.StatusCode == http.StatusUnauthorized:
		return &AuthError{StatusCode: o.StatusCode, Attempts: o.Attempts}
	case o.StatusCode == http.StatusBadRequest:
		return &RejectedError{StatusCode: o.StatusCode}
	default:
		return &DeliveryError{StatusCode: o.StatusCode}
	}
}

// Gateway is the transport to the remote registration API.
type Gateway interface {
	// SubmitBatch delivers msgs to path and returns one outcome per message in the same order.
	// An error means no outcome is known for any message.
	SubmitBatch(ctx context.Context, msgs []OutboundMessage, path string) ([]Outcome, error)
	// FetchSince returns every response payload created after since.
	FetchSince(ctx context.Context, since time.Time) ([][]byte, error)
	// SendAck posts a single acknowledgement payload to path.
	SendAck(ctx context.Context, ack []byte, path string) (Outcome, error)
}
