package vitalrelay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// DeliveryReport summarizes one submit or resend phase.
type DeliveryReport struct {
	Selected  int
	Delivered int
	Rejected  int
	// Failed counts messages left unchanged after a transport, auth or other delivery failure.
	Failed int
	// Stale counts messages another tick changed between selection and update.
	Stale int
	// Exhausted counts messages moved to Error by the resend ceiling.
	Exhausted int
}

type deliveryMode int

const (
	modeSubmit deliveryMode = iota
	modeResend
)

func (m deliveryMode) String() string {
	if m == modeResend {
		return "resend"
	}

	return "submit"
}

type partition struct {
	path string
	kind RecordKind
	msgs []OutboundMessage
}

// partitionByPath groups msgs by delivery path: death, birth and fetal death records first, then
// any other paths lexically. Message order inside a partition is preserved.
func partitionByPath(msgs []OutboundMessage) []partition {
	index := make(map[string]int)
	var parts []partition
	for _, msg := range msgs {
		path := msg.Path()
		i, ok := index[path]
		if !ok {
			i = len(parts)
			index[path] = i
			parts = append(parts, partition{path: path, kind: msg.RecordKind})
		}
		parts[i].msgs = append(parts[i].msgs, msg)
	}

	sort.SliceStable(parts, func(a, b int) bool {
		ra, rb := kindRank(parts[a].kind), kindRank(parts[b].kind)
		if ra != rb {
			return ra < rb
		}

		return parts[a].path < parts[b].path
	})

	return parts
}

func kindRank(kind RecordKind) int {
	for i, k := range RecordKinds() {
		if k == kind {
			return i
		}
	}

	return len(RecordKinds())
}

func (e *Engine) deliver(ctx context.Context, mode deliveryMode, msgs []OutboundMessage, report *DeliveryReport) error {
	var errs []error
	for _, part := range partitionByPath(msgs) {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())

			break
		}

		outcomes, err := e.gateway.SubmitBatch(ctx, part.msgs, part.path)
		if err == nil && len(outcomes) != len(part.msgs) {
			err = fmt.Errorf("%w: %d messages, %d outcomes", ErrOutcomeCount, len(part.msgs), len(outcomes))
		}
		if err != nil {
			e.cfg.Logger.Error("vitalrelay batch delivery failed", "mode", mode, "path", part.path, "count", len(part.msgs), "err", err)
			report.Failed += len(part.msgs)
			e.cfg.Metrics.AddDeliveryFailures(len(part.msgs))
			errs = append(errs, fmt.Errorf("deliver %s: %w", part.path, err))

			continue
		}

		now := e.cfg.Clock.Now()
		for i := range part.msgs {
			msg, outcome := part.msgs[i], outcomes[i]
			err := recoverPanic(func() error {
				return e.applyOutcome(ctx, mode, msg, outcome, now, report)
			})
			if err != nil {
				e.cfg.Logger.Error("vitalrelay delivery update failed", "mode", mode, "message_id", msg.ID, "err", err)
				errs = append(errs, fmt.Errorf("update %s: %w", msg.ID, err))
			}
		}
	}

	return errors.Join(errs...)
}

func (e *Engine) applyOutcome(ctx context.Context, mode deliveryMode, msg OutboundMessage, outcome Outcome, now time.Time, report *DeliveryReport) error {
	update := DeliveryUpdate{
		ID:            msg.ID,
		ExpectStatus:  msg.Status,
		ExpectRetries: msg.Retries,
		Retries:       msg.Retries,
		ExpiresAt:     msg.ExpiresAt,
		UpdatedAt:     now,
	}

	disposition := e.cfg.OutcomeClassifier(ctx, msg, outcome)
	switch disposition {
	case DispositionDelivered:
		update.Status = StatusSent
		window := e.cfg.ResendInterval
		if mode == modeResend {
			update.Retries = msg.Retries + 1
			window = e.cfg.ResendInterval * time.Duration(update.Retries)
		}
		expires := now.Add(window)
		update.ExpiresAt = &expires
	case DispositionReject:
		update.Status = StatusError
		e.cfg.Logger.Warn("vitalrelay message rejected", messageAttrs(msg, "mode", mode, "err", outcome.Err())...)
	case DispositionUnauthorized:
		e.cfg.Logger.Warn("vitalrelay delivery unauthorized", messageAttrs(msg, "mode", mode, "attempts", outcome.Attempts, "err", outcome.Err())...)
		report.Failed++
		e.cfg.Metrics.AddDeliveryFailures(1)

		return nil
	default:
		e.cfg.Logger.Warn("vitalrelay delivery failed", messageAttrs(msg, "mode", mode, "status_code", outcome.StatusCode, "err", outcome.Err())...)
		report.Failed++
		e.cfg.Metrics.AddDeliveryFailures(1)

		return nil
	}

	if err := e.store.UpdateDelivery(ctx, update); err != nil {
		if errors.Is(err, ErrStaleMessage) {
			e.cfg.Logger.Debug("vitalrelay message changed during delivery", "mode", mode, "message_id", msg.ID)
			report.Stale++

			return nil
		}

		return err
	}

	switch update.Status {
	case StatusSent:
		report.Delivered++
		if mode == modeResend {
			e.cfg.Metrics.AddResent(1)
		} else {
			e.cfg.Metrics.AddSubmitted(1)
		}
		e.cfg.Logger.Debug("vitalrelay message delivered", "mode", mode, "message_id", msg.ID, "retries", update.Retries, "expires_at", update.ExpiresAt)
	case StatusError:
		report.Rejected++
		e.cfg.Metrics.AddRejected(1)
	}

	return nil
}
