// Package server exposes the LINE webhook and the LINE Pay confirmation
// callback over HTTP, plus liveness and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/m3rciful/paygate/core/chat"
	"github.com/m3rciful/paygate/core/config"
	"github.com/m3rciful/paygate/core/line"
	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/metrics"
	"github.com/m3rciful/paygate/core/session"
	"github.com/m3rciful/paygate/core/subscription"
)

const shutdownTimeout = 10 * time.Second

// EventParser verifies and decodes one webhook request.
type EventParser func(channelSecret string, r *http.Request) ([]chat.Event, error)

// Confirmer finalizes payments and notifies the paying user.
type Confirmer interface {
	Confirm(ctx context.Context, txID string) (session.Reservation, error)
	NotifyPaid(ctx context.Context, userID string)
}

// Options wires a Server.
type Options struct {
	Config        config.ServerConfig
	ChannelSecret string
	// ConfirmURL overrides the callback handed to LINE Pay; empty derives it from the request host.
	ConfirmURL string

	Dispatcher *subscription.Dispatcher
	Confirmer  Confirmer
	Metrics    metrics.Recorder
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
	// Parse defaults to line.ParseEvents.
	Parse EventParser
}

// Server routes inbound HTTP traffic into the subscription flows.
type Server struct {
	cfg        config.ServerConfig
	secret     string
	confirmURL string
	dispatcher *subscription.Dispatcher
	confirmer  Confirmer
	metrics    metrics.Recorder
	parse      EventParser
	router     chi.Router

	bg sync.WaitGroup
}

// New builds the router. Run serves it.
func New(opts Options) *Server {
	s := &Server{
		cfg:        opts.Config,
		secret:     opts.ChannelSecret,
		confirmURL: strings.TrimSpace(opts.ConfirmURL),
		dispatcher: opts.Dispatcher,
		confirmer:  opts.Confirmer,
		metrics:    opts.Metrics,
		parse:      opts.Parse,
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop()
	}
	if s.parse == nil {
		s.parse = line.ParseEvents
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(accessLog(s.metrics))
	r.Use(recoverer)

	r.Get("/health", s.handleHealth)
	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Registry))
	}
	r.Post(s.cfg.WebhookPath, s.handleWebhook)
	r.Get(s.cfg.ConfirmPath, s.handleConfirm)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Wait blocks until post-response work such as paid notifications has been handed off.
func (s *Server) Wait() { s.bg.Wait() }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.HTTP.Info("http server listening",
		slog.String("event", "listen"),
		slog.String("addr", srv.Addr),
		slog.String("webhook_path", s.cfg.WebhookPath),
		slog.String("confirm_path", s.cfg.ConfirmPath),
	)

	var runErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.HTTP.Warn("http shutdown incomplete",
				slog.String("event", "shutdown"),
				slog.String("status", "fail"),
				logger.Err(err),
			)
		}
		runErr = <-errCh
	case runErr = <-errCh:
	}

	s.bg.Wait()
	if s.dispatcher != nil {
		s.dispatcher.Wait()
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return fmt.Errorf("server: listen on %s: %w", srv.Addr, runErr)
	}
	return nil
}

// confirmURLFor returns the configured callback or https://{host}{confirm path}.
func (s *Server) confirmURLFor(r *http.Request) string {
	if s.confirmURL != "" {
		return s.confirmURL
	}
	return "https://" + r.Host + s.cfg.ConfirmPath
}

// background runs fn after the response has been written, detached from the request.
func (s *Server) background(ctx context.Context, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(ctx)
	}()
}
