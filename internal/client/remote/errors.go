package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure. The sync engine switches on it.
type Kind int

const (
	// KindTransient covers network failures and timeouts; retry with backoff.
	KindTransient Kind = iota
	// KindAuth means the session was rejected. Never retried blindly.
	KindAuth
	// KindNotFound means the target is already gone.
	KindNotFound
	// KindRejected means the server refused the payload itself.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindRejected:
		return "rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the single error type returned by Gateway implementations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("remote %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a gateway error. Errors that did not come from
// a gateway are treated as transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsKind reports whether err is a gateway error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
