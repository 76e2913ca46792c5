package vitalrelay

import "context"

// Handler processes a single inbound response payload.
type Handler interface {
	// Handle processes a payload and returns an error when it could not be reconciled or retained.
	Handle(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, payload []byte) error {
	return fn(ctx, payload)
}
