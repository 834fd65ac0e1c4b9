package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/m3rciful/paygate/core/line"
	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/subscription"
)

const confirmFailedText = "Payment confirmation failed."

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// handleWebhook acknowledges a verified batch before any event is processed.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events, err := s.parse(s.secret, r)
	if err != nil {
		reason := "parse"
		if errors.Is(err, line.ErrInvalidSignature) {
			reason = "signature"
		}
		logger.Warn(ctx, "http", "webhook.rejected",
			slog.String("status", "fail"),
			slog.String("reason", reason),
			logger.Err(err),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	logger.Debug(ctx, "http", "webhook.accepted", slog.Int("events", len(events)))
	s.dispatcher.Dispatch(ctx, events, s.confirmURLFor(r))
}

// handleConfirm is LINE Pay's server-side callback after the user approved a payment.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.confirmer.Confirm(ctx, r.URL.Query().Get("transactionId"))

	var bad *subscription.BadRequestError
	switch {
	case errors.As(err, &bad):
		logger.Warn(ctx, "http", "confirm.rejected",
			slog.String("status", "fail"),
			slog.String("reason", bad.Reason),
			slog.String("err_code", subscription.ErrorCode(err)),
		)
		writeText(w, http.StatusBadRequest, bad.Reason)
		return
	case err != nil:
		logger.Error(ctx, "http", "confirm.failed",
			slog.String("status", "fail"),
			logger.Err(err),
			slog.String("err_code", subscription.ErrorCode(err)),
		)
		writeText(w, http.StatusInternalServerError, confirmFailedText)
		return
	}

	w.WriteHeader(http.StatusOK)
	userID := res.UserID
	s.background(logger.WithUserID(ctx, userID), func(ctx context.Context) {
		s.confirmer.NotifyPaid(ctx, userID)
	})
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
