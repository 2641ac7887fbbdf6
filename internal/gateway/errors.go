package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies gateway failures.
type Kind string

const (
	KindRateLimited         Kind = "rate_limited"
	KindInvalidPayload      Kind = "invalid_payload"
	KindUnauthorized        Kind = "unauthorized"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindTokenIssuanceFailed Kind = "token_issuance_failed"
	KindSubmissionFailed    Kind = "submission_failed"
	KindInternal            Kind = "internal_error"
)

// Operation names used in errors, logs and metrics.
const (
	OpTokenIssuance       = "token_issuance"
	OpInventorySubmission = "inventory_submission"
)

// Error is the only error type returned by Gateway operations. Transport
// errors are kept in Err for logging but never surface as the error itself.
type Error struct {
	Kind Kind
	Op   string
	// Message is safe to return to callers.
	Message string
	// Status and Body are set when the upstream answered with a non-2xx status.
	Status int
	Body   string
	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (upstream status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindInternal when err is not a gateway error.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind Kind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}
