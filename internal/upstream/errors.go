package upstream

import "fmt"

// Kind classifies an upstream failure for retry and surfacing decisions.
type Kind int

const (
	// KindTimeout is a request that exceeded the per-attempt deadline.
	KindTimeout Kind = iota
	// KindTransport is a network-level failure below HTTP.
	KindTransport
	// KindBadStatus is a non-success HTTP status from the upstream.
	KindBadStatus
	// KindLogical is a well-formed response carrying an embedded error code
	// or missing its data field. Never retried.
	KindLogical
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindBadStatus:
		return "bad_status"
	case KindLogical:
		return "logical"
	default:
		return "unknown"
	}
}

// Error is the failure surfaced to callers after the retry budget is spent,
// carrying the last attempt's classification and detail.
type Error struct {
	Kind     Kind
	Status   int
	Message  string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindLogical
}
