package registration

import "fmt"

// FailureKind classifies a failed send attempt.
type FailureKind int

const (
	// FailureTransport is any connect/read/write failure that is not a reset.
	FailureTransport FailureKind = iota + 1
	// FailureReset means the manager dropped the connection. Retried at once.
	FailureReset
	// FailureUnauthorized is a 401 from the manager.
	FailureUnauthorized
	// FailureInvalidResponse is any other non-2xx status.
	FailureInvalidResponse
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureReset:
		return "reset"
	case FailureUnauthorized:
		return "unauthorized"
	case FailureInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt may follow in the same cycle.
func (k FailureKind) Retryable() bool {
	return k == FailureReset
}

// SendError describes one failed delivery attempt.
type SendError struct {
	Kind   FailureKind
	Method string
	URL    string
	Status int
	Reason string
	Body   string
	Err    error
}

func (e *SendError) Error() string {
	switch e.Kind {
	case FailureUnauthorized:
		return fmt.Sprintf("server %s requires authorization, specify correct 'secret': %s", e.URL, e.Body)
	case FailureInvalidResponse:
		return fmt.Sprintf("invalid response: %d %s from %s: %s", e.Status, e.Reason, e.URL, e.Body)
	default:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
}

func (e *SendError) Unwrap() error {
	return e.Err
}
