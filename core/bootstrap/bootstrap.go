// Package bootstrap assembles the application from configuration: logger,
// session store, gateways, outbound queue, subscription flows and HTTP server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/m3rciful/paygate/core/alert"
	coreconfig "github.com/m3rciful/paygate/core/config"
	coredatabase "github.com/m3rciful/paygate/core/database"
	"github.com/m3rciful/paygate/core/line"
	"github.com/m3rciful/paygate/core/linepay"
	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/metrics"
	"github.com/m3rciful/paygate/core/netutil"
	"github.com/m3rciful/paygate/core/sender"
	"github.com/m3rciful/paygate/core/server"
	"github.com/m3rciful/paygate/core/session"
	"github.com/m3rciful/paygate/core/subscription"
	"github.com/m3rciful/paygate/migrations"
)

// Options control the bootstrap pipeline. Zero hooks select the production wiring.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	OpenStore  func(ctx context.Context, cfg *coreconfig.Config) (session.Store, []io.Closer, error)
	// HTTPClient is shared by the LINE, LINE Pay and Telegram clients.
	HTTPClient *http.Client
	Registry   *prometheus.Registry
}

// App is the assembled service.
type App struct {
	Config     *coreconfig.Config
	Store      session.Store
	Outbox     *sender.Dispatcher
	Service    *subscription.Service
	Dispatcher *subscription.Dispatcher
	Server     *server.Server

	closers []io.Closer
}

// Run initializes the logger, opens the store and wires every component.
func Run(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	openStore := opts.OpenStore
	if openStore == nil {
		openStore = OpenStore
	}
	store, closers, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: store initialization failed: %w", err)
	}
	app := &App{Config: cfg, Store: store, closers: closers}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	rec := metrics.New(registry)

	hc := opts.HTTPClient
	if hc == nil {
		hc = netutil.BuildHTTPClient()
	}

	app.Outbox = sender.NewDispatcher(sender.Options{
		QueueSize:    cfg.Sender.QueueSize,
		Workers:      cfg.Sender.Workers,
		MaxRetries:   cfg.Sender.MaxRetries,
		RetryBackoff: cfg.Sender.RetryBackoff,
		OnResult:     rec.IncOutbound,
	})

	alerts, err := buildAlerts(cfg.Alerts, hc, app.Outbox)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: alerts: %w", err)
	}

	messenger, err := line.NewMessenger(line.Options{
		ChannelToken: cfg.Line.ChannelToken,
		Endpoint:     cfg.Line.Endpoint,
		HTTPClient:   hc,
	})
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	payments := linepay.New(linepay.Options{
		ChannelID:     cfg.Pay.ChannelID,
		ChannelSecret: cfg.Pay.ChannelSecret,
		BaseURL:       linepay.BaseURLFor(cfg.Pay.Hostname, cfg.Pay.Sandbox),
		HTTPClient:    hc,
	})

	machine := subscription.NewMachine(subscription.MachineOptions{
		Store:     store,
		Messenger: messenger,
		Payments:  payments,
		Product: subscription.Product{
			Name:     cfg.Pay.ProductName,
			Amount:   cfg.Pay.Amount,
			Currency: cfg.Pay.Currency,
		},
		Texts:   cfg.Messages,
		Alerts:  alerts,
		Metrics: rec,
	})
	app.Dispatcher = subscription.NewDispatcher(machine, rec)
	app.Service = subscription.NewService(subscription.ServiceOptions{
		Store:     store,
		Messenger: messenger,
		Payments:  payments,
		Texts:     cfg.Messages,
		Period:    cfg.Subscription.Period,
		Outbox:    app.Outbox,
		Alerts:    alerts,
		Metrics:   rec,
	})
	if _, err := app.Service.ResumeExpiries(ctx); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: resume expiries: %w", err)
	}

	app.Server = server.New(server.Options{
		Config:        cfg.Server,
		ChannelSecret: cfg.Line.ChannelSecret,
		ConfirmURL:    cfg.Pay.ConfirmURL,
		Dispatcher:    app.Dispatcher,
		Confirmer:     app.Service,
		Metrics:       rec,
		Registry:      registry,
	})

	logger.L.Info("app wired",
		slog.String("component", "app"),
		slog.String("event", "wired"),
		slog.String("store", cfg.Store.Driver),
		slog.String("pay_base_url", linepay.BaseURLFor(cfg.Pay.Hostname, cfg.Pay.Sandbox)),
		slog.Duration("subscription_period", cfg.Subscription.Period),
		slog.Bool("alerts", cfg.Alerts.TelegramToken != ""),
	)
	return app, nil
}

// Serve runs the HTTP server until ctx is done and then releases every resource.
func (a *App) Serve(ctx context.Context) error {
	runErr := a.Server.Run(ctx)
	return errors.Join(runErr, a.Close())
}

// Close cancels pending expiries, drains the outbound queue and closes the store.
func (a *App) Close() error {
	if a.Service != nil {
		a.Service.Close()
	}
	if a.Outbox != nil {
		a.Outbox.Close()
	}
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// OpenStore selects the session backend named by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *coreconfig.Config) (session.Store, []io.Closer, error) {
	switch cfg.Store.Driver {
	case coreconfig.StoreRedis:
		client, err := session.ConnectRedis(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return session.NewRedisStore(client, cfg.Store.RedisPrefix), nil, nil
	case coreconfig.StorePostgres:
		db, err := coredatabase.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := coredatabase.RunMigrations(ctx, cfg.Database, migrations.FS); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return session.NewPostgresStore(db), []io.Closer{db}, nil
	case coreconfig.StoreMemory, "":
		return session.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildAlerts(cfg coreconfig.AlertsConfig, hc *http.Client, outbox *sender.Dispatcher) (alert.Notifier, error) {
	if cfg.TelegramToken == "" {
		return alert.Noop(), nil
	}
	return alert.NewTelegram(alert.Options{
		Token:      cfg.TelegramToken,
		AdminID:    cfg.AdminID,
		HTTPClient: hc,
		Dispatcher: outbox,
	})
}
