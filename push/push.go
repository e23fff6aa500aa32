package push

import (
	"context"

	"notepush/model"

	"github.com/pkg/errors"
)

// Client delivers a notification to a single delivery token and returns the
// provider's message id.
type Client interface {
	Send(ctx context.Context, token string, n model.Notification) (string, error)
}

// Error is a classified delivery failure. A permanent failure means the token
// will never work again and should be invalidated. A throttled failure is
// transient and applies to the whole provider account, not just one token.
type Error struct {
	Permanent bool
	Throttled bool
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	kind := "transient"
	switch {
	case e.Permanent:
		kind = "permanent"
	case e.Throttled:
		kind = "throttled"
	}
	if e.Err == nil {
		return kind + " delivery failure: " + e.Reason
	}
	return kind + " delivery failure: " + e.Reason + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func Permanent(reason string, err error) error {
	return &Error{Permanent: true, Reason: reason, Err: err}
}

func Transient(reason string, err error) error {
	return &Error{Permanent: false, Reason: reason, Err: err}
}

func Throttled(reason string, err error) error {
	return &Error{Throttled: true, Reason: reason, Err: err}
}

// IsThrottled reports whether err says the provider is rejecting requests
// regardless of the token.
func IsThrottled(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Throttled
	}
	return false
}

// IsPermanent reports whether err is a permanent delivery failure. Errors that
// weren't classified are transient.
func IsPermanent(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}
