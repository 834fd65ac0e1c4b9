package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/metrics"
)

const requestIDHeader = "X-Request-ID"

// requestID attaches a correlation id to the request context and response.
// A well-formed inbound id is kept.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(logger.WithRID(r.Context(), rid)))
	})
}

// accessLog writes one summary line per request and feeds the HTTP metrics.
func accessLog(rec metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			took := time.Since(start)
			rec.ObserveHTTP(route, code, took)

			level := slog.LevelInfo
			status := "ok"
			switch {
			case code >= 500:
				level, status = slog.LevelError, "fail"
			case code >= 400:
				level, status = slog.LevelWarn, "fail"
			}
			if route == "/health" || route == "/metrics" {
				level = slog.LevelDebug
			}
			logger.LogEvent(r.Context(), logger.HTTP, level, "http.request",
				slog.String("status", status),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("code", code),
				slog.String("remote", r.RemoteAddr),
				slog.Duration("duration", logger.RoundMS(took)),
			)
		})
	}
}

// recoverer turns a handler panic into a 500 and logs the stack.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.LogEvent(r.Context(), logger.HTTP, slog.LevelError, "http.panic",
				slog.String("status", "fail"),
				slog.Any("err", rec),
				slog.String("stack", string(debug.Stack())),
			)
			w.WriteHeader(http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
