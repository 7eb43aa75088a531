package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an error by how callers should react to it
type Kind int

const (
	// KindTransient covers network failures, timeouts and 5xx responses
	KindTransient Kind = iota + 1
	// KindMalformed covers a single undecodable record
	KindMalformed
	// KindConfig covers missing credentials and invalid settings
	KindConfig
	// KindRateLimited covers throttling responses from an API
	KindRateLimited
	// KindRejected covers non-retryable API or HTTP errors
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindConfig:
		return "config"
	case KindRateLimited:
		return "rate_limited"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error is an error tagged with a Kind and the operation that produced it
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with kind and op
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient wraps err as a transient failure
func Transient(op string, err error) error {
	return New(KindTransient, op, err)
}

// Malformed wraps err as a malformed record
func Malformed(op string, err error) error {
	return New(KindMalformed, op, err)
}

// Rejected wraps err as a non-retryable failure
func Rejected(op string, err error) error {
	return New(KindRejected, op, err)
}

// RateLimited wraps err as a throttling response
func RateLimited(op string, err error) error {
	return New(KindRateLimited, op, err)
}

// KindOf returns the kind of err. Untagged timeouts and network errors are
// reported as transient, anything else untagged as rejected.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return KindRejected
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a delivery or fetch should be attempted again
func Retryable(err error) bool {
	return Is(err, KindTransient)
}
