package vitalrelay

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMessageIDRequired is returned when Entry.ID is empty.
	ErrMessageIDRequired = errors.New("vitalrelay: message id is required")
	// ErrInvalidRecordKind is returned when a record kind is not one of the known kinds.
	ErrInvalidRecordKind = errors.New("vitalrelay: invalid record kind")
	// ErrPayloadRequired is returned when Entry.Payload is empty.
	ErrPayloadRequired = errors.New("vitalrelay: payload is required")
	// ErrMessageNotFound is returned by stores when no outbound message has the requested id.
	ErrMessageNotFound = errors.New("vitalrelay: outbound message not found")
	// ErrResponseNotFound is returned by stores when no inbound response has the requested id.
	ErrResponseNotFound = errors.New("vitalrelay: inbound response not found")
	// ErrDuplicateMessage is returned when an outbound message id already exists.
	ErrDuplicateMessage = errors.New("vitalrelay: duplicate outbound message id")
	// ErrDuplicateResponse signals a response id that was already recorded. It is not a failure:
	// the reconciler replays the acknowledgement instead of reprocessing.
	ErrDuplicateResponse = errors.New("vitalrelay: duplicate inbound response id")
	// ErrStaleMessage is returned when a conditional update found the row in a different state.
	ErrStaleMessage = errors.New("vitalrelay: outbound message changed concurrently")
	// ErrOutcomeCount is returned when a gateway returns a different number of outcomes than messages.
	ErrOutcomeCount = errors.New("vitalrelay: gateway outcome count mismatch")
	// ErrPhasePanic indicates a recovered panic inside a tick phase.
	ErrPhasePanic = errors.New("vitalrelay: tick phase panic")
)

// TransportError reports a network failure or timeout before any HTTP status was received.
// The message is retried on the next tick without a state change.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("vitalrelay: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError reports a 401 that survived the gateway's credential refresh.
type AuthError struct {
	StatusCode int
	Attempts   int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("vitalrelay: unauthorized after %d attempt(s), status %d", e.Attempts, e.StatusCode)
}

// RejectedError reports a 400 or a payload the gateway could not send. The payload is
// permanently invalid and is never retried.
type RejectedError struct {
	StatusCode int
	Err        error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vitalrelay: rejected before delivery: %v", e.Err)
	}

	return fmt.Sprintf("vitalrelay: rejected by remote side, status %d", e.StatusCode)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// DeliveryError reports any other non-2xx status. The message stays retryable.
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("vitalrelay: delivery failed, status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ProtocolError reports an inbound payload that could not be decoded.
type ProtocolError struct {
	MessageID string
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("vitalrelay: unparseable inbound payload: %v", e.Err)
	}

	return fmt.Sprintf("vitalrelay: unparseable inbound message %s: %v", e.MessageID, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// CorrelationError reports a response that does not reference a known outbound message.
type CorrelationError struct {
	ResponseID  string
	ReferenceID string
	Kind        ResponseKind
}

func (e *CorrelationError) Error() string {
	if e.ReferenceID == "" {
		return fmt.Sprintf("vitalrelay: %s response %s carries no reference id", e.Kind, e.ResponseID)
	}

	return fmt.Sprintf("vitalrelay: %s response %s references unknown message %s", e.Kind, e.ResponseID, e.ReferenceID)
}
