package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/m3rciful/paygate/core/alert"
	"github.com/m3rciful/paygate/core/chat"
	"github.com/m3rciful/paygate/core/config"
	"github.com/m3rciful/paygate/core/linepay"
	"github.com/m3rciful/paygate/core/session"
)

type sent struct {
	to   string
	msgs []chat.Message
}

type fakeMessenger struct {
	mu       sync.Mutex
	replies  []sent
	pushes   []sent
	replyErr error
	pushErr  error
	onReply  func(token string)
}

func (f *fakeMessenger) Reply(_ context.Context, token string, msgs ...chat.Message) error {
	if f.onReply != nil {
		f.onReply(token)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies = append(f.replies, sent{to: token, msgs: msgs})
	return nil
}

func (f *fakeMessenger) Push(_ context.Context, userID string, msgs ...chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, sent{to: userID, msgs: msgs})
	return nil
}

func (f *fakeMessenger) Replies() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.replies...)
}

func (f *fakeMessenger) Pushes() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.pushes...)
}

type fakePayments struct {
	mu         sync.Mutex
	reserves   []linepay.ReserveRequest
	confirms   []linepay.ConfirmRequest
	result     linepay.ReserveResult
	reserveErr error
	confirmErr error
}

func (f *fakePayments) Reserve(_ context.Context, req linepay.ReserveRequest) (linepay.ReserveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves = append(f.reserves, req)
	if f.reserveErr != nil {
		return linepay.ReserveResult{}, f.reserveErr
	}
	return f.result, nil
}

func (f *fakePayments) Confirm(_ context.Context, req linepay.ConfirmRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = append(f.confirms, req)
	return f.confirmErr
}

func (f *fakePayments) Reserves() []linepay.ReserveRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]linepay.ReserveRequest(nil), f.reserves...)
}

func (f *fakePayments) Confirms() []linepay.ConfirmRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]linepay.ConfirmRequest(nil), f.confirms...)
}

type recordingAlerts struct {
	mu        sync.Mutex
	summaries []string
}

func (r *recordingAlerts) Alert(_ context.Context, summary string, _ ...alert.Detail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
}

func (r *recordingAlerts) Summaries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.summaries...)
}

// countingStore counts writes so tests can assert that nothing was mutated.
type countingStore struct {
	session.Store
	mu     sync.Mutex
	writes int
}

func (c *countingStore) PutSession(ctx context.Context, s session.Session) error {
	c.bump()
	return c.Store.PutSession(ctx, s)
}

func (c *countingStore) DeleteSession(ctx context.Context, userID string) error {
	c.bump()
	return c.Store.DeleteSession(ctx, userID)
}

func (c *countingStore) PutReservation(ctx context.Context, r session.Reservation) error {
	c.bump()
	return c.Store.PutReservation(ctx, r)
}

func (c *countingStore) DeleteReservation(ctx context.Context, txID string) error {
	c.bump()
	return c.Store.DeleteReservation(ctx, txID)
}

func (c *countingStore) bump() {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
}

func (c *countingStore) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

var fixedNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

const testConfirmURL = "https://bot.example.com/pay/confirm"

type harness struct {
	store     *countingStore
	messenger *fakeMessenger
	payments  *fakePayments
	alerts    *recordingAlerts
	machine   *Machine
	texts     config.MessagesConfig
}

func newHarness() *harness {
	h := &harness{
		store:     &countingStore{Store: session.NewMemoryStore()},
		messenger: &fakeMessenger{},
		payments: &fakePayments{result: linepay.ReserveResult{
			TransactionID: "T1",
			PaymentURL:    "https://pay/x",
		}},
		alerts: &recordingAlerts{},
		texts:  config.DefaultMessages(),
	}
	h.machine = NewMachine(MachineOptions{
		Store:     h.store,
		Messenger: h.messenger,
		Payments:  h.payments,
		Product:   Product{Name: "チャット商品", Amount: 1, Currency: "JPY"},
		Texts:     h.texts,
		Alerts:    h.alerts,
		Now:       func() time.Time { return fixedNow },
	})
	return h
}

func (h *harness) status(userID string) session.Status {
	st, err := session.StatusOf(context.Background(), h.store, userID)
	if err != nil {
		panic(err)
	}
	return st
}

func (h *harness) setStatus(userID string, st session.Status) {
	if err := h.store.Store.PutSession(context.Background(), session.Session{UserID: userID, Status: st}); err != nil {
		panic(err)
	}
}

func messageEvent(userID, token, text string) chat.Event {
	msg := chat.Text(text)
	return chat.Event{ID: "ev-" + token, Type: chat.EventMessage, UserID: userID, ReplyToken: token, Message: &msg, RawType: "message"}
}

func postbackEvent(userID, token, data string) chat.Event {
	return chat.Event{ID: "ev-" + token, Type: chat.EventPostback, UserID: userID, ReplyToken: token, PostbackData: data, RawType: "postback"}
}
