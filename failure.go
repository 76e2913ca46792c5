package vitalrelay

import (
	"context"
	"net/http"
)

// Disposition defines what a delivery outcome does to the message row.
type Disposition int

const (
	// DispositionRetry leaves the message unchanged so the next tick picks it up again.
	DispositionRetry Disposition = iota
	// DispositionDelivered moves the message to Sent.
	DispositionDelivered
	// DispositionReject moves the message to Error. It is never resent.
	DispositionReject
	// DispositionUnauthorized leaves the message unchanged and reports an auth failure.
	DispositionUnauthorized
)

func (d Disposition) String() string {
	switch d {
	case DispositionDelivered:
		return "delivered"
	case DispositionReject:
		return "reject"
	case DispositionUnauthorized:
		return "unauthorized"
	default:
		return "retry"
	}
}

// OutcomeClassifier decides how a delivery outcome affects a message.
type OutcomeClassifier func(ctx context.Context, msg OutboundMessage, outcome Outcome) Disposition

func defaultOutcomeClassifier(_ context.Context, _ OutboundMessage, outcome Outcome) Disposition {
	switch {
	case outcome.Success():
		return DispositionDelivered
	case outcome.Invalid != nil:
		return DispositionReject
	case outcome.Transport != nil:
		return DispositionRetry
	case outcome.StatusCode == http.StatusBadRequest:
		return DispositionReject
	case outcome.StatusCode == http.StatusUnauthorized:
		return DispositionUnauthorized
	default:
		return DispositionRetry
	}
}
