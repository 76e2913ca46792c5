package vitalrelay

import (
	"context"
	"errors"
	"fmt"
)

// ReconcileResult names what reconciliation did with a payload.
type ReconcileResult int

const (
	// ResultApplied means the response was recorded and moved its message to a new status.
	ResultApplied ReconcileResult = iota + 1
	// ResultRecorded means the response was recorded without a status change.
	ResultRecorded
	// ResultDuplicate means the response id was seen before; only the acknowledgement was replayed.
	ResultDuplicate
	// ResultUncorrelated means no outbound message matched; the response was dropped.
	ResultUncorrelated
	// ResultSynthesized means the payload did not parse and a local extraction error was retained.
	ResultSynthesized
	// ResultUnparseable means not even the header could be read; the payload was dropped.
	ResultUnparseable
)

func (r ReconcileResult) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultRecorded:
		return "recorded"
	case ResultDuplicate:
		return "duplicate"
	case ResultUncorrelated:
		return "uncorrelated"
	case ResultSynthesized:
		return "synthesized"
	case ResultUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// Reconciliation describes the handling of one inbound payload.
type Reconciliation struct {
	Result      ReconcileResult
	ResponseID  string
	ReferenceID string
	Kind        ResponseKind
	// From and To are set when a transition was applied.
	From Status
	To   Status
	// Acked reports whether an acknowledgement was accepted by the remote side.
	Acked bool
	// Err carries the protocol or correlation error behind a Synthesized, Unparseable or
	// Uncorrelated result.
	Err error
}

var _ Handler = (*Engine)(nil)

// Handle implements Handler by reconciling payload.
func (e *Engine) Handle(ctx context.Context, payload []byte) error {
	_, err := e.Reconcile(ctx, payload)

	return err
}

// Reconcile parses one inbound payload, deduplicates it by response id, correlates it with the
// outbound message it references, records it together with the resulting status transition and
// acknowledges it back when its kind requires that. Protocol and correlation anomalies are
// reported in the result, not as errors; only store failures are returned.
func (e *Engine) Reconcile(ctx context.Context, payload []byte) (Reconciliation, error) {
	resp, err := e.codec.ParseResponse(payload)
	if err != nil {
		return e.synthesize(ctx, payload, err)
	}

	rec := Reconciliation{ResponseID: resp.MessageID, ReferenceID: resp.ReferenceID(), Kind: resp.Kind}
	if resp.MessageID == "" {
		rec.Result = ResultUnparseable
		rec.Err = &ProtocolError{Err: errors.New("response carries no message id")}
		e.cfg.Logger.Warn("vitalrelay response dropped", "kind", resp.Kind, "err", rec.Err)

		return rec, nil
	}

	seen, err := e.store.GetResponse(ctx, resp.MessageID)
	switch {
	case err == nil:
		return e.replay(ctx, resp, seen, rec), nil
	case !errors.Is(err, ErrResponseNotFound):
		return rec, fmt.Errorf("lookup response %s: %w", resp.MessageID, err)
	}

	if rec.ReferenceID == "" {
		return e.uncorrelated(rec), nil
	}
	original, err := e.store.GetMessage(ctx, rec.ReferenceID)
	if errors.Is(err, ErrMessageNotFound) {
		return e.uncorrelated(rec), nil
	}
	if err != nil {
		return rec, fmt.Errorf("lookup message %s: %w", rec.ReferenceID, err)
	}

	for attempt := 1; ; attempt++ {
		now := e.cfg.Clock.Now()
		inbound := InboundResponse{
			ID:            resp.MessageID,
			ReferenceID:   original.ID,
			BusinessKey:   original.BusinessKey,
			RecordKind:    original.RecordKind,
			SchemaVersion: original.SchemaVersion,
			Kind:          resp.Kind,
			Payload:       payload,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		transition := e.transitionFor(original, resp.Kind, rec)
		if transition != nil {
			transition.At = now
		}

		err = e.store.RecordResponse(ctx, inbound, transition)
		if err == nil {
			rec.Result = ResultRecorded
			if transition != nil {
				rec.Result = ResultApplied
				rec.From, rec.To = transition.From, transition.To
			}

			break
		}
		if errors.Is(err, ErrDuplicateResponse) {
			return e.replay(ctx, resp, inbound, rec), nil
		}
		if !errors.Is(err, ErrStaleMessage) || attempt >= recordAttempts {
			return rec, fmt.Errorf("record response %s: %w", resp.MessageID, err)
		}

		original, err = e.store.GetMessage(ctx, original.ID)
		if err != nil {
			return rec, fmt.Errorf("reload message %s: %w", rec.ReferenceID, err)
		}
	}

	e.cfg.Metrics.AddResponses(resp.Kind, 1)
	e.cfg.Logger.Info("vitalrelay response reconciled",
		"response_id", rec.ResponseID, "reference_id", rec.ReferenceID, "kind", resp.Kind,
		"result", rec.Result, "status", original.Status, "to", rec.To)

	if resp.Kind.RequiresAck() {
		rec.Acked = e.acknowledge(ctx, resp, original.RecordKind, original.Path())
	}

	return rec, nil
}

// transitionFor returns the transition resp drives original through, or nil when the kind carries
// none or the move would not go forward.
func (e *Engine) transitionFor(original OutboundMessage, kind ResponseKind, rec Reconciliation) *Transition {
	target, ok := kind.Target()
	if !ok {
		return nil
	}
	if !original.Status.CanTransition(target) || original.Status == target {
		e.cfg.Logger.Info("vitalrelay transition ignored",
			"response_id", rec.ResponseID, "reference_id", original.ID, "kind", kind,
			"status", original.Status, "target", target)

		return nil
	}

	return &Transition{MessageID: original.ID, From: original.Status, To: target}
}

func (e *Engine) replay(ctx context.Context, resp Response, seen InboundResponse, rec Reconciliation) Reconciliation {
	rec.Result = ResultDuplicate
	if seen.ReferenceID != "" {
		rec.ReferenceID = seen.ReferenceID
	}
	e.cfg.Metrics.AddDuplicates(1)
	e.cfg.Logger.Info("vitalrelay duplicate response", "response_id", rec.ResponseID, "reference_id", rec.ReferenceID, "kind", resp.Kind)

	if resp.Kind.RequiresAck() {
		rec.Acked = e.acknowledge(ctx, resp, seen.RecordKind, seen.Path())
	}

	return rec
}

func (e *Engine) uncorrelated(rec Reconciliation) Reconciliation {
	rec.Result = ResultUncorrelated
	rec.Err = &CorrelationError{ResponseID: rec.ResponseID, ReferenceID: rec.ReferenceID, Kind: rec.Kind}
	e.cfg.Metrics.AddUncorrelated(1)
	e.cfg.Logger.Warn("vitalrelay response dropped", "response_id", rec.ResponseID, "reference_id", rec.ReferenceID, "kind", rec.Kind, "err", rec.Err)

	return rec
}

// acknowledge sends the acknowledgement for resp. Failures are logged, never retried here: the
// remote side redelivers unacknowledged responses and the duplicate path acknowledges again.
func (e *Engine) acknowledge(ctx context.Context, resp Response, record RecordKind, path string) bool {
	ack, err := e.codec.Acknowledge(resp, record)
	if err != nil {
		e.cfg.Logger.Error("vitalrelay acknowledgement not built", "response_id", resp.MessageID, "err", err)
		e.cfg.Metrics.AddAckFailures(1)

		return false
	}

	outcome, err := e.gateway.SendAck(ctx, ack, path)
	if err == nil {
		err = outcome.Err()
	}
	if err != nil {
		e.cfg.Logger.Warn("vitalrelay acknowledgement failed", "response_id", resp.MessageID, "path", path, "err", err)
		e.cfg.Metrics.AddAckFailures(1)

		return false
	}

	return true
}

// synthesize retains a payload that did not parse as a local extraction error in Error status.
func (e *Engine) synthesize(ctx context.Context, payload []byte, parseErr error) (Reconciliation, error) {
	header, err := e.codec.ParseHeader(payload)
	if err != nil {
		rec := Reconciliation{Result: ResultUnparseable, Err: &ProtocolError{Err: errors.Join(parseErr, err)}}
		e.cfg.Logger.Error("vitalrelay inbound payload dropped", "err", rec.Err)

		return rec, nil
	}

	rec := Reconciliation{
		Result:     ResultSynthesized,
		ResponseID: header.MessageID,
		Kind:       ExtractionErrorKind(header.RecordKind),
		Err:        &ProtocolError{MessageID: header.MessageID, Err: parseErr},
	}
	e.cfg.Logger.Warn("vitalrelay inbound payload unparseable", "response_id", header.MessageID, "err", parseErr)

	msg, err := e.codec.ExtractionError(header, e.cfg.JurisdictionEndpoint)
	if err != nil {
		return rec, fmt.Errorf("synthesize extraction error for %s: %w", header.MessageID, err)
	}
	now := e.cfg.Clock.Now()
	msg.Status = StatusError
	msg.Retries = 0
	msg.ExpiresAt = nil
	msg.CreatedAt = now
	msg.UpdatedAt = now
	rec.ReferenceID = msg.ID

	if err := e.store.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			e.cfg.Logger.Debug("vitalrelay extraction error already retained", "message_id", msg.ID, "response_id", header.MessageID)

			return rec, nil
		}

		return rec, fmt.Errorf("store extraction error %s: %w", msg.ID, err)
	}
	e.cfg.Metrics.AddExtractionErrors(1)

	return rec, nil
}
