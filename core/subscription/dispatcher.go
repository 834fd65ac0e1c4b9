package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/paygate/core/chat"
	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/metrics"
)

// Dispatcher fans a webhook batch out to the Machine. Events of one user run
// in batch order under that user's lock; different users run concurrently.
type Dispatcher struct {
	machine *Machine
	metrics metrics.Recorder
	locks   *keyLock
	wg      sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher around machine.
func NewDispatcher(machine *Machine, rec metrics.Recorder) *Dispatcher {
	if rec == nil {
		rec = metrics.Noop()
	}
	return &Dispatcher{machine: machine, metrics: rec, locks: newKeyLock()}
}

// Dispatch starts processing events and returns without waiting. Validation
// pings are dropped here. Failures are logged per event and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, events []chat.Event, confirmURL string) {
	ctx = context.WithoutCancel(ctx)

	var order []string
	byUser := make(map[string][]chat.Event)
	for _, ev := range events {
		if ev.IsValidationPing() {
			d.metrics.ObserveEvent(string(ev.Type), "ping")
			logger.Debug(ctx, "sub", "event.ping", slog.String("status", "skip"))
			continue
		}
		if _, ok := byUser[ev.UserID]; !ok {
			order = append(order, ev.UserID)
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}

	for _, userID := range order {
		queue := byUser[userID]
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			unlock := d.locks.Lock(userID)
			defer unlock()
			for _, ev := range queue {
				d.process(ctx, ev, confirmURL)
			}
		}()
	}
}

// Wait blocks until every dispatched event has been processed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, ev chat.Event, confirmURL string) {
	ctx = logger.WithEventMeta(ctx, ev.ID, ev.UserID)
	ctx = logger.WithHandler(ctx, string(ev.Type))
	start := time.Now()

	outcome, err := d.safeHandle(ctx, ev, confirmURL)
	d.metrics.ObserveEvent(string(ev.Type), string(outcome))

	status := "ok"
	level := slog.LevelInfo
	switch {
	case errors.Is(err, ErrMalformedEvent):
		status = "skip"
		level = slog.LevelWarn
	case err != nil:
		status = "fail"
		level = slog.LevelError
	case outcome == OutcomeIgnored:
		status = "ignored"
	}

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("event_type", ev.RawType),
		slog.String("outcome", string(outcome)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	}
	if err != nil {
		attrs = append(attrs,
			logger.Err(err),
			slog.String("err_code", ErrorCode(err)),
		)
	}
	logger.LogEvent(ctx, logger.SUB, level, "event.handled", attrs...)
}

// safeHandle keeps a panic in one event from taking down its siblings.
func (d *Dispatcher) safeHandle(ctx context.Context, ev chat.Event, confirmURL string) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.machine.Handle(ctx, ev, confirmURL)
}
