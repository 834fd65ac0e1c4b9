// Package subscription implements the per-user subscription state machine,
// the webhook event dispatcher, payment confirmation and expiry.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/paygate/core/alert"
	"github.com/m3rciful/paygate/core/chat"
	"github.com/m3rciful/paygate/core/config"
	"github.com/m3rciful/paygate/core/linepay"
	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/metrics"
	"github.com/m3rciful/paygate/core/session"
)

// Postback payloads of the offer template.
const (
	AnswerYes = "yes"
	AnswerNo  = "no"
)

// Messenger is the Messaging Gateway contract.
type Messenger interface {
	Reply(ctx context.Context, replyToken string, msgs ...chat.Message) error
	Push(ctx context.Context, userID string, msgs ...chat.Message) error
}

// PaymentGateway is the Payment Gateway contract.
type PaymentGateway interface {
	Reserve(ctx context.Context, req linepay.ReserveRequest) (linepay.ReserveResult, error)
	Confirm(ctx context.Context, req linepay.ConfirmRequest) error
}

// Product is the single subscription product offered to users.
type Product struct {
	Name     string
	Amount   int64
	Currency string
}

// Outcome names what the machine did with one event.
type Outcome string

const (
	OutcomeOffered  Outcome = "offered"
	OutcomeReserved Outcome = "reserved"
	OutcomeDeclined Outcome = "declined"
	OutcomeRelayed  Outcome = "relayed"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeFailed   Outcome = "failed"
)

// MachineOptions wires a Machine.
type MachineOptions struct {
	Store     session.Store
	Messenger Messenger
	Payments  PaymentGateway
	Product   Product
	Texts     config.MessagesConfig
	Alerts    alert.Notifier
	Metrics   metrics.Recorder
	Now       func() time.Time
}

// Machine maps (session status, inbound event) to replies, gateway calls and store writes.
type Machine struct {
	store     session.Store
	messenger Messenger
	payments  PaymentGateway
	product   Product
	texts     config.MessagesConfig
	alerts    alert.Notifier
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewMachine constructs a Machine, substituting no-op alerts and metrics when unset.
func NewMachine(opts MachineOptions) *Machine {
	m := &Machine{
		store:     opts.Store,
		messenger: opts.Messenger,
		payments:  opts.Payments,
		product:   opts.Product,
		texts:     opts.Texts,
		alerts:    opts.Alerts,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if m.alerts == nil {
		m.alerts = alert.Noop()
	}
	if m.metrics == nil {
		m.metrics = metrics.Noop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Handle applies one event. confirmURL is the callback handed to LINE Pay on reserve.
// Validation pings must be filtered by the caller.
func (m *Machine) Handle(ctx context.Context, ev chat.Event, confirmURL string) (Outcome, error) {
	if ev.UserID == "" {
		return OutcomeIgnored, fmt.Errorf("%w: no source user", ErrMalformedEvent)
	}

	status, err := session.StatusOf(ctx, m.store, ev.UserID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load session: %w", err)
	}

	switch status {
	case session.StatusAbsent:
		return m.offer(ctx, ev)
	case session.StatusInactive:
		return m.answer(ctx, ev, confirmURL)
	case session.StatusActive:
		return m.relay(ctx, ev)
	default:
		return OutcomeFailed, fmt.Errorf("unhandled session status %s", status)
	}
}

func (m *Machine) offer(ctx context.Context, ev chat.Event) (Outcome, error) {
	if ev.ReplyToken == "" {
		return OutcomeIgnored, fmt.Errorf("%w: no reply token for offer", ErrMalformedEvent)
	}
	prompt := chat.Confirm(m.texts.Offer,
		chat.Postback(m.texts.OfferYes, AnswerYes),
		chat.Postback(m.texts.OfferNo, AnswerNo),
	)
	if err := m.messenger.Reply(ctx, ev.ReplyToken, prompt); err != nil {
		return OutcomeFailed, gatewayErr("reply", err)
	}
	if err := m.store.PutSession(ctx, session.Session{UserID: ev.UserID, Status: session.StatusInactive}); err != nil {
		return OutcomeFailed, fmt.Errorf("save session: %w", err)
	}
	m.transition(ctx, session.StatusAbsent, session.StatusInactive)
	return OutcomeOffered, nil
}

func (m *Machine) answer(ctx context.Context, ev chat.Event, confirmURL string) (Outcome, error) {
	if ev.Type != chat.EventPostback {
		return OutcomeIgnored, nil
	}
	switch ev.PostbackData {
	case AnswerYes:
		return m.reserve(ctx, ev, confirmURL)
	case AnswerNo:
		return m.decline(ctx, ev)
	default:
		return OutcomeIgnored, nil
	}
}

func (m *Machine) reserve(ctx context.Context, ev chat.Event, confirmURL string) (Outcome, error) {
	req := linepay.ReserveRequest{
		ProductName:    m.product.Name,
		Amount:         m.product.Amount,
		Currency:       m.product.Currency,
		ConfirmURL:     confirmURL,
		ConfirmURLType: linepay.ConfirmURLTypeServer,
		OrderID:        fmt.Sprintf("%s-%d", ev.UserID, m.now().UnixMilli()),
	}

	start := time.Now()
	res, err := m.payments.Reserve(ctx, req)
	m.metrics.ObservePayment("reserve", err, time.Since(start))
	if err != nil {
		gwErr := gatewayErr("reserve", err)
		m.alerts.Alert(ctx, "reserve failed",
			alert.D("user_id", ev.UserID),
			alert.D("order_id", req.OrderID),
			alert.D("err", err.Error()),
		)
		if replyErr := m.messenger.Reply(ctx, ev.ReplyToken, chat.Text(m.texts.ReserveFailed)); replyErr != nil {
			return OutcomeFailed, errors.Join(gwErr, gatewayErr("reply", replyErr))
		}
		return OutcomeFailed, gwErr
	}

	ctx = logger.WithTransactionID(ctx, res.TransactionID)
	reservation := session.Reservation{
		TransactionID: res.TransactionID,
		UserID:        ev.UserID,
		OrderID:       req.OrderID,
		ProductName:   req.ProductName,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ConfirmURL:    req.ConfirmURL,
		CreatedAt:     m.now().UTC(),
	}
	if err := m.store.PutReservation(ctx, reservation); err != nil {
		return OutcomeFailed, fmt.Errorf("save reservation: %w", err)
	}
	logger.Info(ctx, "sub", "reserve.ok",
		slog.String("status", "ok"),
		slog.String("order_id", req.OrderID),
	)

	pay := chat.Buttons(m.texts.PaymentPrompt, chat.URI(m.texts.PaymentButton, res.PaymentURL))
	if err := m.messenger.Reply(ctx, ev.ReplyToken, pay); err != nil {
		return OutcomeFailed, gatewayErr("reply", err)
	}
	return OutcomeReserved, nil
}

func (m *Machine) decline(ctx context.Context, ev chat.Event) (Outcome, error) {
	if err := m.messenger.Reply(ctx, ev.ReplyToken, chat.Text(m.texts.Declined)); err != nil {
		return OutcomeFailed, gatewayErr("reply", err)
	}
	if err := m.store.DeleteSession(ctx, ev.UserID); err != nil {
		return OutcomeFailed, fmt.Errorf("delete session: %w", err)
	}
	m.transition(ctx, session.StatusInactive, session.StatusAbsent)
	return OutcomeDeclined, nil
}

func (m *Machine) relay(ctx context.Context, ev chat.Event) (Outcome, error) {
	if ev.Type != chat.EventMessage {
		return OutcomeIgnored, nil
	}
	if ev.Message == nil {
		return OutcomeIgnored, fmt.Errorf("%w: message body cannot be relayed", ErrMalformedEvent)
	}
	if ev.ReplyToken == "" {
		return OutcomeIgnored, fmt.Errorf("%w: no reply token for relay", ErrMalformedEvent)
	}
	if err := m.messenger.Reply(ctx, ev.ReplyToken, *ev.Message); err != nil {
		return OutcomeFailed, gatewayErr("reply", err)
	}
	return OutcomeRelayed, nil
}

func (m *Machine) transition(ctx context.Context, from, to session.Status) {
	m.metrics.IncTransition(from.String(), to.String())
	logger.Info(ctx, "sub", "transition",
		slog.String("status", "ok"),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}
