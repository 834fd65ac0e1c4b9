package linepay

import (
	"errors"
	"fmt"
)

// ReturnCodeSuccess is the returnCode LINE Pay uses for accepted requests.
const ReturnCodeSuccess = "0000"

// ErrDecode is returned when a LINE Pay response body cannot be parsed.
var ErrDecode = errors.New("linepay: decode response")

// APIError is a rejection reported by LINE Pay, either as a non-2xx HTTP
// status or as a non-"0000" returnCode.
type APIError struct {
	Op            string
	HTTPStatus    int
	ReturnCode    string
	ReturnMessage string
}

func (e *APIError) Error() string {
	if e.ReturnCode != "" {
		return fmt.Sprintf("linepay: %s rejected: %s %s (%d)", e.Op, e.ReturnCode, e.ReturnMessage, e.HTTPStatus)
	}
	return fmt.Sprintf("linepay: %s rejected (%d)", e.Op, e.HTTPStatus)
}
