package exchange

import "fmt"

// APIError classifies exchange call failures.
type APIError struct {
	Type    string // "network", "rate_limit", "api", "auth", "decode"
	Op      string // e.g. "place_order"
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error in %s: %s (%v)", e.Type, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Type, e.Op, e.Message)
}

func (e *APIError) Unwrap() error { return e.Cause }

func newNetworkError(op, message string, cause error) *APIError {
	return &APIError{Type: "network", Op: op, Message: message, Cause: cause}
}

func newRateLimitError(op, message string) *APIError {
	return &APIError{Type: "rate_limit", Op: op, Message: message}
}

func newAPIError(op, message string) *APIError {
	return &APIError{Type: "api", Op: op, Message: message}
}

func newDecodeError(op string, cause error) *APIError {
	return &APIError{Type: "decode", Op: op, Message: "failed to parse response", Cause: cause}
}
