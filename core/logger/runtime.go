package logger

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
)

type contextKey string

const (
	ctxRID           contextKey = "rid"
	ctxUserID        contextKey = "user_id"
	ctxEventID       contextKey = "event_id"
	ctxTransactionID contextKey = "transaction_id"
	ctxLogger        contextKey = "logger"
	ctxHandler       contextKey = "handler"
)

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts slog.Logger from context or returns global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
			return l
		}
	}
	return L
}

// WithRID attaches request correlation id into context.
func WithRID(ctx context.Context, rid string) context.Context {
	return withString(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string {
	return stringFrom(ctx, ctxRID)
}

// WithEventMeta attaches the webhook event id and the LINE user id to context.
func WithEventMeta(ctx context.Context, eventID, userID string) context.Context {
	ctx = withString(ctx, ctxEventID, eventID)
	return withString(ctx, ctxUserID, userID)
}

// WithUserID attaches the LINE user id to context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return withString(ctx, ctxUserID, userID)
}

// UserIDFrom extracts the LINE user id from context.
func UserIDFrom(ctx context.Context) string {
	return stringFrom(ctx, ctxUserID)
}

// EventIDFrom extracts the webhook event id from context.
func EventIDFrom(ctx context.Context) string {
	return stringFrom(ctx, ctxEventID)
}

// WithTransactionID attaches a LINE Pay transaction id to context.
func WithTransactionID(ctx context.Context, txID string) context.Context {
	return withString(ctx, ctxTransactionID, txID)
}

// TransactionIDFrom extracts the LINE Pay transaction id from context.
func TransactionIDFrom(ctx context.Context) string {
	return stringFrom(ctx, ctxTransactionID)
}

// WithHandler stores handler identifier in context for downstream logs.
func WithHandler(ctx context.Context, handler string) context.Context {
	return withString(ctx, ctxHandler, handler)
}

// HandlerFrom returns handler identifier from context if present.
func HandlerFrom(ctx context.Context) string {
	return stringFrom(ctx, ctxHandler)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// Sanitize trims non-printable runes from s to keep logs clean.
// Control and format characters are removed except for tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeLimit applies Sanitize and limits the output length in runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}
