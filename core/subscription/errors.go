package subscription

import (
	"errors"
	"reflect"
	"strings"
)

var (
	// ErrGatewayFailure marks a rejected or failed Messaging or Payment Gateway call.
	ErrGatewayFailure = errors.New("gateway failure")
	// ErrMalformedEvent marks an inbound event lacking the fields its state needs.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrMissingTransactionID is returned by Confirm when no transaction id was given.
	ErrMissingTransactionID = &BadRequestError{Reason: "Transaction Id not found."}
	// ErrReservationNotFound is returned by Confirm for unknown or already confirmed ids.
	ErrReservationNotFound = &BadRequestError{Reason: "Reservation not found."}
)

// BadRequestError is a caller error on the confirmation path. Reason is shown to the caller.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return e.Reason }

// Code returns the log error code.
func (e *BadRequestError) Code() string { return "BAD_REQUEST" }

// GatewayError wraps a failed gateway call. It matches ErrGatewayFailure and the cause.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return "gateway " + e.Op + ": " + e.Err.Error()
}

func (e *GatewayError) Unwrap() []error { return []error{ErrGatewayFailure, e.Err} }

// Code returns the log error code.
func (e *GatewayError) Code() string { return "GATEWAY_FAILURE" }

func gatewayErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{Op: op, Err: err}
}

// ErrorCode derives a stable upper-case code for logs from err.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	switch {
	case errors.Is(err, ErrMalformedEvent):
		return "MALFORMED_EVENT"
	case errors.Is(err, ErrGatewayFailure):
		return "GATEWAY_FAILURE"
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}
