package vitalrelay

import (
	"context"
	"fmt"
	"time"
)

// PollReport summarizes one poll phase.
type PollReport struct {
	Since time.Time
	// Until is the new watermark, zero when the watermark was not advanced.
	Until   time.Time
	Fetched int
	// Failed counts payloads that could neither be reconciled nor retained.
	Failed int
}

// PollForResponses fetches every response newer than the watermark, streams each through the
// reconciler and then advances the watermark to the time captured before the fetch. A failed fetch
// leaves the watermark untouched.
func (e *Engine) PollForResponses(ctx context.Context) (PollReport, error) {
	var report PollReport

	since, err := e.watermarks.Watermark(ctx)
	if err != nil {
		return report, fmt.Errorf("read watermark: %w", err)
	}
	if since.IsZero() {
		since = epoch
	}
	report.Since = since

	now := e.cfg.Clock.Now()
	payloads, err := e.gateway.FetchSince(ctx, since)
	if err != nil {
		return report, fmt.Errorf("fetch since %s: %w", since.Format(time.RFC3339), err)
	}
	report.Fetched = len(payloads)

	for i, payload := range payloads {
		err := recoverPanic(func() error {
			return e.Handle(ctx, payload)
		})
		if err != nil {
			report.Failed++
			e.cfg.Logger.Error("vitalrelay response not processed", "index", i, "err", err)
		}
	}

	until := now
	if until.Before(since) {
		until = since
	}
	if err := e.watermarks.AdvanceWatermark(ctx, until); err != nil {
		return report, fmt.Errorf("advance watermark: %w", err)
	}
	report.Until = until
	if len(payloads) > 0 {
		e.cfg.Logger.Info("vitalrelay responses polled", "count", len(payloads), "failed", report.Failed, "watermark", until)
	}

	return report, nil
}
