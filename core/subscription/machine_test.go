package subscription

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paygate/core/chat"
	"github.com/m3rciful/paygate/core/linepay"
	"github.com/m3rciful/paygate/core/session"
)

func TestFirstEventOffersSubscriptionOnce(t *testing.T) {
	for _, ev := range []chat.Event{
		messageEvent("U1", "r1", "hello"),
		postbackEvent("U1", "r1", "yes"),
		{ID: "ev-follow", Type: chat.EventOther, UserID: "U1", ReplyToken: "r1", RawType: "follow"},
	} {
		t.Run(ev.RawType, func(t *testing.T) {
			h := newHarness()
			outcome, err := h.machine.Handle(context.Background(), ev, testConfirmURL)
			require.NoError(t, err)
			assert.Equal(t, OutcomeOffered, outcome)

			replies := h.messenger.Replies()
			require.Len(t, replies, 1)
			assert.Equal(t, "r1", replies[0].to)
			require.Len(t, replies[0].msgs, 1)
			want := chat.Confirm(h.texts.Offer, chat.Postback("はい", "yes"), chat.Postback("いいえ", "no"))
			assert.Equal(t, want, replies[0].msgs[0])

			assert.Equal(t, session.StatusInactive, h.status("U1"))
			assert.Empty(t, h.payments.Reserves())
		})
	}
}

func TestOfferReplyFailureKeepsUserAbsent(t *testing.T) {
	h := newHarness()
	h.messenger.replyErr = errors.New("unexpected status code: 400")

	outcome, err := h.machine.Handle(context.Background(), messageEvent("U1", "r1", "hi"), testConfirmURL)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, ErrGatewayFailure)
	assert.Equal(t, session.StatusAbsent, h.status("U1"))
}

func TestAwaitingConsentIgnoresNonPostbacks(t *testing.T) {
	h := newHarness()
	h.setStatus("U1", session.StatusInactive)

	outcome, err := h.machine.Handle(context.Background(), messageEvent("U1", "r2", "hello?"), testConfirmURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, h.messenger.Replies())
	assert.Equal(t, session.StatusInactive, h.status("U1"))
}

func TestAwaitingConsentIgnoresUnknownPostback(t *testing.T) {
	h := newHarness()
	h.setStatus("U1", session.StatusInactive)

	outcome, err := h.machine.Handle(context.Background(), postbackEvent("U1", "r2", "maybe"), testConfirmURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, h.messenger.Replies())
	assert.Empty(t, h.payments.Reserves())
}

func TestDeclineRemovesSessionAndRestartsAsNewUser(t *testing.T) {
	h := newHarness()
	h.setStatus("U1", session.StatusInactive)

	outcome, err := h.machine.Handle(context.Background(), postbackEvent("U1", "r2", "no"), testConfirmURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeclined, outcome)

	replies := h.messenger.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, []chat.Message{chat.Text("わかりました！")}, replies[0].msgs)
	assert.Equal(t, session.StatusAbsent, h.status("U1"))

	outcome, err = h.machine.Handle(context.Background(), messageEvent("U1", "r3", "back"), testConfirmURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffered, outcome)
	assert.Equal(t, session.StatusInactive, h.status("U1"))
}

func TestAcceptReservesAndSendsPaymentLink(t *testing.T) {
	h := newHarness()
	h.setStatus("U1", session.StatusInactive)

	outcome, err := h.machine.Handle(context.Background(), postbackEvent("U1", "r2", "yes"), testConfirmURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReserved, outcome)
	wantOrderID := fmt.Sprintf("U1-%d", fixedNow.UnixMilli())

	reserves := h.payments.Reserves()
	require.Len(t, reserves, 1)
	assert.Equal(t, linepay.ReserveRequest{
		ProductName:    "チャット商品",
		Amount:         1,
		Currency:       "JPY",
		ConfirmURL:     testConfirmURL,
		ConfirmURLType: "SERVER",
		OrderID:        wantOrderID,
	}, reserves[0])

	res, err := h.store.GetReservation(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "U1", res.UserID)
	assert.Equal(t, int64(1), res.Amount)
	assert.Equal(t, "JPY", res.Currency)
	assert.Equal(t, wantOrderID, res.OrderID)
	assert.Equal(t, testConfirmURL, res.ConfirmURL)

	replies := h.messenger.Replies()
	require.Len(t, replies, 1)
	want := chat.Buttons("支払いページへとお進み下さい", chat.URI("LINE Payによる支払い", "https://pay/x"))
	assert.Equal(t, []chat.Message{want}, replies[0].msgs)

	assert.Equal(t, session.StatusInactive, h.status("U1"))
}

func TestReserveFailureRepliesAndAlerts(t *testing.T) {
	h := newHarness()
	h.setStatus("U1", session.StatusInactive)
	h.payments.reserveErr = &linepay.APIError{Op: "reserve", HTTPStatus: 200, ReturnCode: "1104", ReturnMessage: "merchant not found"}

	outcome, err := h.machine.Handle(context.Background(), postbackEvent("U1", "r2", "yes"), testConfirmURL)
	assert.Equal(t, OutcomeFailed, outcome)
	require.ErrorIs(t, err, ErrGatewayFailure)
	var apiErr *linepay.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "1104", apiErr.ReturnCode)
	assert.Equal(t, "GATEWAY_FAILURE", ErrorCode(err))

	replies := h.messenger.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, []chat.Message{chat.Text(h.texts.ReserveFailed)}, replies[0].msgs)
	assert.Equal(t, []string{"reserve failed"}, h.alerts.Summaries())

	_, err = h.store.GetReservation(context.Background(), "T1")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Equal(t, session.StatusInactive, h.status("U1"))
}

func TestActiveRelaysMessageWithoutID(t *testing.T) {
	h := newHarness()
	h.setStatus("U1", session.StatusActive)

	sticker := chat.Sticker("446", "1988")
	events := []chat.Event{
		messageEvent("U1", "r1", "echo me"),
		{ID: "ev-s", Type: chat.EventMessage, UserID: "U1", ReplyToken: "r2", Message: &sticker},
	}
	for _, ev := range events {
		outcome, err := h.machine.Handle(context.Background(), ev, testConfirmURL)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRelayed, outcome)
	}

	replies := h.messenger.Replies()
	require.Len(t, replies, 2)
	assert.Equal(t, []chat.Message{chat.Text("echo me")}, replies[0].msgs)
	assert.Equal(t, []chat.Message{sticker}, replies[1].msgs)
	assert.Equal(t, session.StatusActive, h.status("U1"))
}

func TestActiveSkipsUnrelayableMessage(t *testing.T) {
	h := newHarness()
	h.setStatus("U1", session.StatusActive)

	ev := chat.Event{ID: "ev-img", Type: chat.EventMessage, UserID: "U1", ReplyToken: "r1", RawType: "message"}
	outcome, err := h.machine.Handle(context.Background(), ev, testConfirmURL)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Equal(t, "MALFORMED_EVENT", ErrorCode(err))
	assert.Empty(t, h.messenger.Replies())
}

func TestActiveIgnoresPostback(t *testing.T) {
	h := newHarness()
	h.setStatus("U1", session.StatusActive)

	outcome, err := h.machine.Handle(context.Background(), postbackEvent("U1", "r1", "yes"), testConfirmURL)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, h.payments.Reserves())
}

func TestEventWithoutUserIsMalformed(t *testing.T) {
	h := newHarness()
	_, err := h.machine.Handle(context.Background(), chat.Event{Type: chat.EventOther, RawType: "unsend"}, testConfirmURL)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Zero(t, h.store.Writes())
}

type fixedStatusStore struct {
	session.Store
	status session.Status
}

func (f fixedStatusStore) GetSession(_ context.Context, userID string) (session.Session, error) {
	return session.Session{UserID: userID, Status: f.status}, nil
}

func TestUnknownStatusIsAnError(t *testing.T) {
	h := newHarness()
	m := NewMachine(MachineOptions{
		Store:     fixedStatusStore{Store: session.NewMemoryStore(), status: session.Status(42)},
		Messenger: h.messenger,
		Payments:  h.payments,
		Texts:     h.texts,
	})

	outcome, err := m.Handle(context.Background(), messageEvent("U1", "r1", "hi"), testConfirmURL)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Error(t, err)
	assert.Empty(t, h.messenger.Replies())
}
