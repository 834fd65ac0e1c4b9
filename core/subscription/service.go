package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/paygate/core/alert"
	"github.com/m3rciful/paygate/core/chat"
	"github.com/m3rciful/paygate/core/config"
	"github.com/m3rciful/paygate/core/linepay"
	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/metrics"
	"github.com/m3rciful/paygate/core/sender"
	"github.com/m3rciful/paygate/core/session"
)

// ServiceOptions wires a Service.
type ServiceOptions struct {
	Store     session.Store
	Messenger Messenger
	Payments  PaymentGateway
	Texts     config.MessagesConfig
	// Period is how long a confirmed subscription stays active.
	Period time.Duration
	// Outbox sends pushes asynchronously with retries; nil pushes inline.
	Outbox  *sender.Dispatcher
	Alerts  alert.Notifier
	Metrics metrics.Recorder
	Now     func() time.Time
}

// Service finalizes payments, arms expiries and pushes the resulting notifications.
type Service struct {
	store     session.Store
	messenger Messenger
	payments  PaymentGateway
	texts     config.MessagesConfig
	outbox    *sender.Dispatcher
	alerts    alert.Notifier
	metrics   metrics.Recorder
	period    time.Duration
	now       func() time.Time
	expiries  *Scheduler
}

// NewService constructs a Service and its expiry scheduler.
func NewService(opts ServiceOptions) *Service {
	s := &Service{
		store:     opts.Store,
		messenger: opts.Messenger,
		payments:  opts.Payments,
		texts:     opts.Texts,
		outbox:    opts.Outbox,
		alerts:    opts.Alerts,
		metrics:   opts.Metrics,
		period:    opts.Period,
		now:       opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.alerts == nil {
		s.alerts = alert.Noop()
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop()
	}
	s.expiries = NewScheduler(opts.Period, s.expire, s.metrics.SetArmedTimers)
	return s
}

// Confirm finalizes the reservation for txID with the stored amount and
// currency, activates the user and arms the expiry. The reservation is
// deleted on success so a replay is answered with ErrReservationNotFound.
// On gateway failure the reservation is kept.
func (s *Service) Confirm(ctx context.Context, txID string) (session.Reservation, error) {
	if txID == "" {
		s.metrics.IncConfirm("bad_request")
		return session.Reservation{}, ErrMissingTransactionID
	}
	ctx = logger.WithTransactionID(ctx, txID)

	res, err := s.store.GetReservation(ctx, txID)
	if errors.Is(err, session.ErrNotFound) {
		s.metrics.IncConfirm("bad_request")
		return session.Reservation{}, ErrReservationNotFound
	}
	if err != nil {
		s.metrics.IncConfirm("fail")
		return session.Reservation{}, fmt.Errorf("load reservation: %w", err)
	}
	ctx = logger.WithUserID(ctx, res.UserID)

	start := time.Now()
	err = s.payments.Confirm(ctx, linepay.ConfirmRequest{
		TransactionID: res.TransactionID,
		Amount:        res.Amount,
		Currency:      res.Currency,
	})
	s.metrics.ObservePayment("confirm", err, time.Since(start))
	if err != nil {
		s.metrics.IncConfirm("fail")
		s.alerts.Alert(ctx, "confirm failed",
			alert.D("transaction_id", txID),
			alert.D("user_id", res.UserID),
			alert.D("err", err.Error()),
		)
		return session.Reservation{}, gatewayErr("confirm", err)
	}

	prev, err := session.StatusOf(ctx, s.store, res.UserID)
	if err != nil {
		logger.Warn(ctx, "sub", "confirm.status", slog.String("status", "fail"), logger.Err(err))
	}
	if err := s.store.PutSession(ctx, session.Session{UserID: res.UserID, Status: session.StatusActive}); err != nil {
		s.metrics.IncConfirm("fail")
		s.alerts.Alert(ctx, "confirmed payment not activated",
			alert.D("transaction_id", txID),
			alert.D("user_id", res.UserID),
			alert.D("err", err.Error()),
		)
		return session.Reservation{}, fmt.Errorf("activate session: %w", err)
	}
	s.metrics.IncTransition(prev.String(), session.StatusActive.String())

	if s.expiries.Arm(res.UserID) {
		logger.Info(ctx, "sub", "expiry.rearmed", slog.String("status", "ok"))
	}
	if err := s.store.DeleteReservation(ctx, txID); err != nil {
		logger.Warn(ctx, "sub", "reservation.delete", slog.String("status", "fail"), logger.Err(err))
	}

	s.metrics.IncConfirm("ok")
	logger.Info(ctx, "sub", "confirm.ok",
		slog.String("status", "ok"),
		slog.String("order_id", res.OrderID),
		slog.String("from", prev.String()),
		slog.String("to", session.StatusActive.String()),
	)
	return res, nil
}

// ResumeExpiries re-arms the expiry of every active session in the store,
// counting the time spent since the session was activated. Sessions whose
// period already ran out expire immediately. It returns the number re-armed.
func (s *Service) ResumeExpiries(ctx context.Context) (int, error) {
	active, err := s.store.ListSessions(ctx, session.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	now := s.now()
	overdue := 0
	for _, sess := range active {
		remaining := s.period - now.Sub(sess.UpdatedAt)
		if remaining <= 0 {
			overdue++
		}
		s.expiries.ArmAfter(sess.UserID, remaining)
	}
	logger.Info(ctx, "sub", "expiry.resumed",
		slog.String("status", "ok"),
		slog.Int("count", len(active)),
		slog.Int("overdue", overdue),
	)
	return len(active), nil
}

// NotifyPaid pushes the celebration sticker and text to a freshly activated user.
func (s *Service) NotifyPaid(ctx context.Context, userID string) {
	s.push(ctx, "push.paid", userID,
		chat.Sticker(s.texts.StickerPackageID, s.texts.StickerID),
		chat.Text(s.texts.Paid),
	)
}

// Expiries exposes the scheduler, mainly for tests and shutdown.
func (s *Service) Expiries() *Scheduler { return s.expiries }

// Close cancels every pending expiry.
func (s *Service) Close() {
	s.expiries.Stop()
}

func (s *Service) expire(userID string) {
	ctx := logger.WithUserID(context.Background(), userID)
	if err := s.store.PutSession(ctx, session.Session{UserID: userID, Status: session.StatusInactive}); err != nil {
		logger.Error(ctx, "sub", "expiry.fail", slog.String("status", "fail"), logger.Err(err))
		s.alerts.Alert(ctx, "expiry not applied", alert.D("user_id", userID), alert.D("err", err.Error()))
		return
	}
	s.metrics.IncExpired()
	s.metrics.IncTransition(session.StatusActive.String(), session.StatusInactive.String())
	logger.Info(ctx, "sub", "expiry.fired",
		slog.String("status", "ok"),
		slog.String("from", session.StatusActive.String()),
		slog.String("to", session.StatusInactive.String()),
	)
	s.push(ctx, "push.expired", userID, chat.Text(s.texts.Expired))
}

func (s *Service) push(ctx context.Context, action, userID string, msgs ...chat.Message) {
	ctx = chat.WithRetryKey(ctx, uuid.NewString())
	run := func(jobCtx context.Context) error {
		return s.messenger.Push(jobCtx, userID, msgs...)
	}
	if s.outbox == nil {
		if err := run(ctx); err != nil {
			logger.Error(ctx, "sub", action, slog.String("status", "fail"), logger.Err(err))
		}
		return
	}
	if err := s.outbox.Enqueue(ctx, action, "/v2/bot/message/push", run); err != nil {
		logger.Error(ctx, "sub", action, slog.String("status", "fail"), logger.Err(err))
	}
}
