// Package alert notifies operators about payment-path failures through a
// Telegram admin chat.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/sender"
)

// Notifier delivers operator alerts.
type Notifier interface {
	// Alert reports summary with optional key/value details.
	Alert(ctx context.Context, summary string, details ...Detail)
}

// Detail is one key/value line of an alert.
type Detail struct {
	Key   string
	Value string
}

// D builds a Detail.
func D(key, value string) Detail { return Detail{Key: key, Value: value} }

// Noop drops alerts; used when no Telegram token is configured.
func Noop() Notifier { return noop{} }

type noop struct{}

func (noop) Alert(context.Context, string, ...Detail) {}

// Options configures the Telegram notifier.
type Options struct {
	Token   string
	AdminID int64
	// APIURL overrides the Bot API base URL, mainly for tests.
	APIURL     string
	HTTPClient *http.Client
	// Dispatcher sends alerts asynchronously when set.
	Dispatcher *sender.Dispatcher
}

type telegram struct {
	bot        *tele.Bot
	admin      tele.ChatID
	dispatcher *sender.Dispatcher
}

// NewTelegram builds an offline bot that only sends messages; no updates are polled.
func NewTelegram(opts Options) (Notifier, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:   opts.Token,
		URL:     opts.APIURL,
		Client:  opts.HTTPClient,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("alert: telegram bot: %w", err)
	}
	return &telegram{bot: bot, admin: tele.ChatID(opts.AdminID), dispatcher: opts.Dispatcher}, nil
}

func (t *telegram) Alert(ctx context.Context, summary string, details ...Detail) {
	text := Format(summary, details...)
	send := func(context.Context) error {
		_, err := t.bot.Send(t.admin, text)
		return err
	}
	if t.dispatcher != nil {
		if err := t.dispatcher.Enqueue(ctx, "alert", "sendMessage", send); err != nil {
			logger.Warn(ctx, "alert", "alert.enqueue", slog.String("status", "fail"), logger.Err(err))
		}
		return
	}
	if err := send(ctx); err != nil {
		logger.Warn(ctx, "alert", "alert.send", slog.String("status", "fail"), logger.Err(err))
	}
}

// Format renders an alert as plain text, one detail per line.
func Format(summary string, details ...Detail) string {
	var b strings.Builder
	b.WriteString("[paygate] ")
	b.WriteString(summary)
	for _, d := range details {
		if d.Value == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(d.Key)
		b.WriteString(": ")
		b.WriteString(logger.SanitizeLimit(d.Value, 300))
	}
	return b.String()
}
