package vitalrelay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Engine delivers outbound messages and reconciles inbound responses.
type Engine struct {
	store      MessageStore
	watermarks WatermarkStore
	gateway    Gateway
	codec      Codec
	cfg        Config

	busy atomic.Bool

	pendingMu sync.Mutex
	pendingAt time.Time
}

// TickReport summarizes one scheduler tick.
type TickReport struct {
	// Skipped is set when the previous tick was still running.
	Skipped bool
	Submit  DeliveryReport
	Poll    PollReport
	Resend  DeliveryReport
	// Err joins the errors of every phase.
	Err error
}

// New constructs an Engine with defaults and optional settings.
func New(store MessageStore, watermarks WatermarkStore, gateway Gateway, codec Codec, opts ...Option) *Engine {
	if store == nil {
		panic("vitalrelay: nil MessageStore")
	}
	if watermarks == nil {
		panic("vitalrelay: nil WatermarkStore")
	}
	if gateway == nil {
		panic("vitalrelay: nil Gateway")
	}
	if codec == nil {
		panic("vitalrelay: nil Codec")
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Engine{
		store:      store,
		watermarks: watermarks,
		gateway:    gateway,
		codec:      codec,
		cfg:        cfg,
	}
}

// Enqueue validates entry and stores it as a Pending message.
func (e *Engine) Enqueue(ctx context.Context, entry Entry) (OutboundMessage, error) {
	if err := entry.Validate(); err != nil {
		return OutboundMessage{}, err
	}

	msg := entry.Message(e.cfg.Clock)
	if err := e.store.InsertMessage(ctx, msg); err != nil {
		return OutboundMessage{}, fmt.Errorf("vitalrelay: enqueue %s: %w", msg.ID, err)
	}
	e.cfg.Logger.Debug("vitalrelay message enqueued", messageAttrs(msg)...)

	return msg, nil
}

// Run ticks every PollInterval until ctx is done. The first tick fires immediately. Ticks are
// dispatched on schedule even when the previous one overran; an overlapping tick is skipped.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	dispatch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report := e.Tick(ctx)
			if report.Err != nil && ctx.Err() == nil {
				e.cfg.Logger.Error("vitalrelay tick failed", "err", report.Err)
			}
		}()
	}

	dispatch()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		case <-ticker.C:
			dispatch()
		}
	}
}

// Tick runs submit, poll and resend once, in that order. A phase failure does not stop the
// following phases.
func (e *Engine) Tick(ctx context.Context) TickReport {
	if !e.busy.CompareAndSwap(false, true) {
		e.cfg.Logger.Warn("vitalrelay tick skipped, previous tick still running")
		e.cfg.Metrics.AddSkippedTicks(1)

		return TickReport{Skipped: true}
	}
	defer e.busy.Store(false)

	start := time.Now()
	defer func() {
		e.cfg.Metrics.ObserveTickDuration(time.Since(start))
	}()

	var report TickReport
	var errs []error

	errs = append(errs, e.phase(ctx, "submit", func(ctx context.Context) error {
		var err error
		report.Submit, err = e.SubmitNewMessages(ctx)

		return err
	}))
	errs = append(errs, e.phase(ctx, "poll", func(ctx context.Context) error {
		var err error
		report.Poll, err = e.PollForResponses(ctx)

		return err
	}))
	errs = append(errs, e.phase(ctx, "resend", func(ctx context.Context) error {
		var err error
		report.Resend, err = e.ResendOverdue(ctx)

		return err
	}))
	report.Err = errors.Join(errs...)

	return report
}

func (e *Engine) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if e.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PhaseTimeout)
		defer cancel()
	}

	err := recoverPanic(func() error { return fn(ctx) })
	if err != nil {
		e.cfg.Logger.Error("vitalrelay phase failed", "phase", name, "err", err)

		return fmt.Errorf("vitalrelay %s: %w", name, err)
	}

	return nil
}

// recoverPanic runs fn and converts a panic into ErrPhasePanic.
func recoverPanic(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrPhasePanic, rec)
		}
	}()

	return fn()
}

func (e *Engine) maybeRecordPending(ctx context.Context) {
	counter, ok := e.store.(PendingCounter)
	if !ok {
		return
	}
	if e.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := e.cfg.Clock.Now()
	e.pendingMu.Lock()
	nextAllowed := e.pendingAt.Add(e.cfg.PendingInterval)
	if !e.pendingAt.IsZero() && now.Before(nextAllowed) {
		e.pendingMu.Unlock()

		return
	}
	e.pendingAt = now
	e.pendingMu.Unlock()

	count, err := counter.PendingCount(ctx)
	if err != nil {
		e.cfg.Logger.Warn("vitalrelay pending count failed", "err", err)

		return
	}

	e.cfg.Metrics.SetPending(count)
}
