package vitalrelay

import (
	"context"
	"time"
)

// MessageFilter selects outbound messages.
type MessageFilter struct {
	// Statuses restricts the selection when non-empty.
	Statuses []Status
	// ExpiresBefore selects messages overdue at the value, see OutboundMessage.Overdue. Without
	// Statuses it implies ResendableStatuses.
	ExpiresBefore time.Time
	RecordKind    RecordKind
	// BusinessKey selects one vital event. An empty StateAuxiliaryID matches any.
	BusinessKey *BusinessKey
	// Limit caps the result when positive.
	Limit int
	// Newest orders by creation time descending instead of ascending.
	Newest bool
}

// DeliveryUpdate is a conditional write of delivery state. It applies only when the row still has
// ExpectStatus and ExpectRetries, otherwise the store returns ErrStaleMessage.
type DeliveryUpdate struct {
	ID            string
	ExpectStatus  Status
	ExpectRetries int
	Status        Status
	Retries       int
	ExpiresAt     *time.Time
	UpdatedAt     time.Time
}

// Transition moves an outbound message from one status to another, conditional on From.
type Transition struct {
	MessageID string
	From      Status
	To        Status
	At        time.Time
}

// ResponseFilter selects inbound responses.
type ResponseFilter struct {
	ReferenceID string
	Limit       int
}

// MessageStore persists outbound messages and inbound responses. Stores make no state decisions.
type MessageStore interface {
	// InsertMessage stores a new outbound message. Returns ErrDuplicateMessage if the id exists.
	InsertMessage(ctx context.Context, msg OutboundMessage) error
	// GetMessage returns ErrMessageNotFound when no message has id.
	GetMessage(ctx context.Context, id string) (OutboundMessage, error)
	// ListMessages returns messages matching filter.
	ListMessages(ctx context.Context, filter MessageFilter) ([]OutboundMessage, error)
	// UpdateDelivery applies a conditional delivery update.
	UpdateDelivery(ctx context.Context, update DeliveryUpdate) error
	// GetResponse returns ErrResponseNotFound when no response has id.
	GetResponse(ctx context.Context, id string) (InboundResponse, error)
	// ListResponses returns responses newest first.
	ListResponses(ctx context.Context, filter ResponseFilter) ([]InboundResponse, error)
	// RecordResponse inserts resp and, when transition is non-nil, applies it in the same
	// transaction. Returns ErrDuplicateResponse if the response id exists and ErrStaleMessage if
	// the message left transition.From; neither writes anything.
	RecordResponse(ctx context.Context, resp InboundResponse, transition *Transition) error
}

// WatermarkStore persists the poll cursor.
type WatermarkStore interface {
	// Watermark returns the last polled time, or the zero time when none was stored.
	Watermark(ctx context.Context) (time.Time, error)
	// AdvanceWatermark stores at unless a later value is already stored.
	AdvanceWatermark(ctx context.Context, at time.Time) error
}

// PendingCounter provides a total count of messages awaiting first delivery.
type PendingCounter interface {
	// PendingCount returns the current number of Pending messages.
	PendingCount(ctx context.Context) (int, error)
}
