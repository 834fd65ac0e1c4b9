// Package linepay is a small client for the LINE Pay v2 reserve and confirm
// endpoints used by the subscription flow.
package linepay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/paygate/core/logger"
	"github.com/m3rciful/paygate/core/netutil"
)

const (
	// SandboxHost serves test channels.
	SandboxHost = "sandbox-api-pay.line.me"
	// ProductionHost serves live channels.
	ProductionHost = "api-pay.line.me"

	// ConfirmURLTypeServer makes LINE Pay call the confirm URL server-to-server.
	ConfirmURLTypeServer = "SERVER"

	maxResponseBytes = 1 << 20
)

// Options configures a Client.
type Options struct {
	ChannelID     string
	ChannelSecret string
	// BaseURL is scheme plus host, e.g. https://sandbox-api-pay.line.me.
	BaseURL    string
	HTTPClient *http.Client
}

// Client calls the LINE Pay API.
type Client struct {
	channelID     string
	channelSecret string
	baseURL       string
	http          *http.Client
}

// BaseURLFor returns the API base URL for a hostname, choosing the sandbox
// or production host when hostname is empty. A hostname carrying a scheme is used as is.
func BaseURLFor(hostname string, sandbox bool) string {
	host := strings.TrimRight(strings.TrimSpace(hostname), "/")
	if host == "" {
		host = ProductionHost
		if sandbox {
			host = SandboxHost
		}
	}
	if strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}

// New constructs a Client. A nil HTTPClient selects the shared tuned client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = netutil.BuildHTTPClient()
	}
	return &Client{
		channelID:     opts.ChannelID,
		channelSecret: opts.ChannelSecret,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		http:          hc,
	}
}

// ReserveRequest describes a charge to reserve.
type ReserveRequest struct {
	ProductName    string `json:"productName"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	ConfirmURL     string `json:"confirmUrl"`
	ConfirmURLType string `json:"confirmUrlType"`
	OrderID        string `json:"orderId"`
}

// ReserveResult carries the transaction id and the hosted payment page.
type ReserveResult struct {
	TransactionID string
	PaymentURL    string
	PaymentAppURL string
}

// ConfirmRequest finalizes a reserved charge. Amount and currency must match the reservation.
type ConfirmRequest struct {
	TransactionID string `json:"-"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

type envelope struct {
	ReturnCode    string          `json:"returnCode"`
	ReturnMessage string          `json:"returnMessage"`
	Info          json.RawMessage `json:"info"`
}

type reserveInfo struct {
	TransactionID json.Number `json:"transactionId"`
	PaymentURL    struct {
		Web string `json:"web"`
		App string `json:"app"`
	} `json:"paymentUrl"`
}

// Reserve creates a pending charge and returns the payment page URL.
func (c *Client) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	if req.ConfirmURLType == "" {
		req.ConfirmURLType = ConfirmURLTypeServer
	}
	env, err := c.call(ctx, "reserve", "/v2/payments/request", req)
	if err != nil {
		return ReserveResult{}, err
	}
	var info reserveInfo
	if err := json.Unmarshal(env.Info, &info); err != nil {
		return ReserveResult{}, fmt.Errorf("%w: reserve info: %v", ErrDecode, err)
	}
	if info.TransactionID == "" || info.PaymentURL.Web == "" {
		return ReserveResult{}, fmt.Errorf("%w: reserve info missing transactionId or paymentUrl", ErrDecode)
	}
	return ReserveResult{
		TransactionID: info.TransactionID.String(),
		PaymentURL:    info.PaymentURL.Web,
		PaymentAppURL: info.PaymentURL.App,
	}, nil
}

// Confirm finalizes a reserved charge.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) error {
	if req.TransactionID == "" {
		return errors.New("linepay: confirm without transaction id")
	}
	ctx = logger.WithTransactionID(ctx, req.TransactionID)
	_, err := c.call(ctx, "confirm", "/v2/payments/"+req.TransactionID+"/confirm", req)
	return err
}

func (c *Client) call(ctx context.Context, op, path string, body any) (envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return envelope{}, fmt.Errorf("linepay: encode %s: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return envelope{}, fmt.Errorf("linepay: build %s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
	httpReq.Header.Set("X-LINE-ChannelId", c.channelID)
	httpReq.Header.Set("X-LINE-ChannelSecret", c.channelSecret)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		logCall(ctx, op, path, 0, "", time.Since(start), err)
		return envelope{}, fmt.Errorf("linepay: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logCall(ctx, op, path, resp.StatusCode, "", time.Since(start), err)
		return envelope{}, fmt.Errorf("linepay: read %s: %w", op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Op: op, HTTPStatus: resp.StatusCode, ReturnCode: env.ReturnCode, ReturnMessage: env.ReturnMessage}
		logCall(ctx, op, path, resp.StatusCode, env.ReturnCode, time.Since(start), apiErr)
		return envelope{}, apiErr
	}
	if decodeErr != nil {
		logCall(ctx, op, path, resp.StatusCode, "", time.Since(start), decodeErr)
		return envelope{}, fmt.Errorf("%w: %v", ErrDecode, decodeErr)
	}
	if env.ReturnCode != ReturnCodeSuccess {
		apiErr := &APIError{Op: op, HTTPStatus: resp.StatusCode, ReturnCode: env.ReturnCode, ReturnMessage: env.ReturnMessage}
		logCall(ctx, op, path, resp.StatusCode, env.ReturnCode, time.Since(start), apiErr)
		return envelope{}, apiErr
	}

	logCall(ctx, op, path, resp.StatusCode, env.ReturnCode, time.Since(start), nil)
	return env, nil
}

func logCall(ctx context.Context, op, path string, code int, returnCode string, took time.Duration, err error) {
	level := slog.LevelDebug
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("action", op),
		slog.String("path", path),
		slog.Duration("duration", logger.RoundMS(took)),
	}
	if code != 0 {
		attrs = append(attrs, slog.Int("http_code", code))
	}
	if returnCode != "" {
		attrs = append(attrs, slog.String("return_code", returnCode))
	}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, logger.Err(err))
	}
	logger.LogEvent(ctx, logger.PAY, level, "api."+op, attrs...)
}
