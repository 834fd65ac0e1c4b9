package chat

import "context"

// EventType discriminates inbound events.
type EventType string

const (
	EventMessage  EventType = "message"
	EventPostback EventType = "postback"
	// EventOther covers follow, unfollow, join and every other platform event.
	EventOther EventType = "other"
)

// Validation sentinels the platform sends when verifying webhook reachability.
const (
	SentinelZeros = "00000000000000000000000000000000"
	SentinelFs    = "ffffffffffffffffffffffffffffffff"
)

// Event is one item of an inbound webhook batch.
type Event struct {
	// ID is the platform's webhook event id, used for log correlation only.
	ID         string
	Type       EventType
	UserID     string
	ReplyToken string
	// Message is the relayable body of a message event with the platform
	// message id already dropped. Nil when the body cannot be relayed.
	Message *Message
	// PostbackData is set for postback events.
	PostbackData string
	// RawType keeps the platform's own type name for logs.
	RawType string
}

// IsValidationPing reports whether the event is a reachability check rather than a user action.
func (e Event) IsValidationPing() bool {
	return e.ReplyToken == SentinelZeros || e.ReplyToken == SentinelFs
}

type retryKeyCtx struct{}

// WithRetryKey attaches an idempotency key reused by every attempt of one push.
func WithRetryKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, retryKeyCtx{}, key)
}

// RetryKeyFrom returns the idempotency key attached by WithRetryKey.
func RetryKeyFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(retryKeyCtx{}).(string)
	return key
}
