package vitalrelay

import (
	"context"
	"errors"
	"fmt"
)

// ResendOverdue redelivers every unacknowledged message whose window expired. A 2xx increments
// retries and widens the next window to ResendInterval times retries. Other failures leave the
// message untouched so it is selected again on the next tick.
func (e *Engine) ResendOverdue(ctx context.Context) (DeliveryReport, error) {
	var report DeliveryReport

	now := e.cfg.Clock.Now()
	msgs, err := e.store.ListMessages(ctx, MessageFilter{
		Statuses:      ResendableStatuses(),
		ExpiresBefore: now,
	})
	if err != nil {
		return report, fmt.Errorf("list overdue: %w", err)
	}
	report.Selected = len(msgs)

	var errs []error
	due := msgs[:0]
	for _, msg := range msgs {
		if e.cfg.MaxResends > 0 && msg.Retries >= e.cfg.MaxResends {
			if err := e.exhaust(ctx, msg, &report); err != nil {
				errs = append(errs, err)
			}

			continue
		}
		due = append(due, msg)
	}

	if len(due) > 0 {
		errs = append(errs, e.deliver(ctx, modeResend, due, &report))
	}

	return report, errors.Join(errs...)
}

func (e *Engine) exhaust(ctx context.Context, msg OutboundMessage, report *DeliveryReport) error {
	err := e.store.UpdateDelivery(ctx, DeliveryUpdate{
		ID:            msg.ID,
		ExpectStatus:  msg.Status,
		ExpectRetries: msg.Retries,
		Status:        StatusError,
		Retries:       msg.Retries,
		ExpiresAt:     msg.ExpiresAt,
		UpdatedAt:     e.cfg.Clock.Now(),
	})
	if errors.Is(err, ErrStaleMessage) {
		report.Stale++

		return nil
	}
	if err != nil {
		return fmt.Errorf("exhaust %s: %w", msg.ID, err)
	}

	e.cfg.Logger.Warn("vitalrelay resend limit reached", "message_id", msg.ID, "retries", msg.Retries, "limit", e.cfg.MaxResends)
	report.Exhausted++
	e.cfg.Metrics.AddRejected(1)

	return nil
}
