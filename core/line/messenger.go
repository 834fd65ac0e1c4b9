// Package line adapts the LINE Messaging API SDK to the platform-neutral
// chat types: outbound reply and push, inbound webhook parsing.
package line

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/m3rciful/paygate/core/chat"
	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/netutil"
)

// Options configures a Messenger.
type Options struct {
	ChannelToken string
	// Endpoint overrides the API base URL; empty selects the SDK default.
	Endpoint   string
	HTTPClient *http.Client
}

// Messenger sends messages through the LINE Messaging API.
type Messenger struct {
	api *messaging_api.MessagingApiAPI
}

// NewMessenger builds the SDK client with the shared tuned HTTP client.
func NewMessenger(opts Options) (*Messenger, error) {
	hc := opts.HTTPClient
	if hc == nil {
		hc = netutil.BuildHTTPClient()
	}
	sdkOpts := []messaging_api.MessagingApiAPIOption{messaging_api.WithHTTPClient(hc)}
	if opts.Endpoint != "" {
		sdkOpts = append(sdkOpts, messaging_api.WithEndpoint(opts.Endpoint))
	}
	api, err := messaging_api.NewMessagingApiAPI(opts.ChannelToken, sdkOpts...)
	if err != nil {
		return nil, fmt.Errorf("line: messaging api client: %w", err)
	}
	return &Messenger{api: api}, nil
}

// Reply answers an inbound event through its single-use reply token.
func (m *Messenger) Reply(ctx context.Context, replyToken string, msgs ...chat.Message) error {
	converted, err := toSDKMessages(msgs)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = m.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   converted,
	})
	logSend(ctx, "reply", len(msgs), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}
	return nil
}

// Push sends an unsolicited message to a user. The retry key from ctx is
// reused so a retried push is delivered at most once; a fresh key is used otherwise.
func (m *Messenger) Push(ctx context.Context, userID string, msgs ...chat.Message) error {
	converted, err := toSDKMessages(msgs)
	if err != nil {
		return err
	}
	key := chat.RetryKeyFrom(ctx)
	if key == "" {
		key = uuid.NewString()
	}
	start := time.Now()
	_, err = m.api.PushMessage(&messaging_api.PushMessageRequest{
		To:       userID,
		Messages: converted,
	}, key)
	logSend(ctx, "push", len(msgs), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("line: push: %w", err)
	}
	return nil
}

func logSend(ctx context.Context, action string, count int, took time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("action", action),
		slog.Int("messages", count),
		slog.Duration("duration", logger.RoundMS(took)),
	}
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, logger.Err(err))
	}
	logger.LogEvent(ctx, logger.BOT, level, "send."+action, attrs...)
}
