package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/escrow-tf/tradeoffers/steamlang"
)

// Kind classifies a failure by what the caller should do about it.
type Kind int

const (
	// RejectedKind - steam understood the request and refused it. Retrying will not help.
	RejectedKind Kind = iota
	// TransientKind - network trouble, rate limiting or a temporarily unavailable service. Retry later.
	TransientKind
	// MalformedKind - the response did not have the expected shape.
	MalformedKind
	// FatalKind - the credentials are invalid or expired. Nothing works until the session is replaced.
	FatalKind
)

func (k Kind) String() string {
	switch k {
	case TransientKind:
		return "transient"
	case MalformedKind:
		return "malformed"
	case FatalKind:
		return "fatal"
	default:
		return "rejected"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Errors that were never classified are
// classified on the spot.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Classify(err)
}

func IsTransient(err error) bool {
	return err != nil && KindOf(err) == TransientKind
}

func IsMalformed(err error) bool {
	return err != nil && KindOf(err) == MalformedKind
}

func IsFatal(err error) bool {
	return err != nil && KindOf(err) == FatalKind
}

// Classify inspects an unclassified error coming out of the transport.
func Classify(err error) Kind {
	var resultErr *steamlang.ResultError
	if errors.As(err, &resultErr) {
		switch {
		case resultErr.Result.Fatal():
			return FatalKind
		case resultErr.Result.Transient():
			return TransientKind
		default:
			return RejectedKind
		}
	}

	var statusErr *steamlang.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return FatalKind
		case statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500:
			return TransientKind
		default:
			return RejectedKind
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return TransientKind
	}

	return RejectedKind
}
