package vitalrelay

import (
	"context"
	"fmt"
)

// SubmitNewMessages delivers every Pending message, one batch per delivery path. A 2xx moves a
// message to Sent with a fresh acknowledgement window, a 400 moves it to Error, anything else
// leaves it Pending for the next tick.
func (e *Engine) SubmitNewMessages(ctx context.Context) (DeliveryReport, error) {
	var report DeliveryReport

	msgs, err := e.store.ListMessages(ctx, MessageFilter{Statuses: []Status{StatusPending}})
	if err != nil {
		return report, fmt.Errorf("list pending: %w", err)
	}
	report.Selected = len(msgs)
	if len(msgs) > 0 {
		err = e.deliver(ctx, modeSubmit, msgs, &report)
	}
	e.maybeRecordPending(ctx)

	return report, err
}
