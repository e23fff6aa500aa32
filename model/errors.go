package model

import "github.com/pkg/errors"

var (
	ErrInvalidPolicy = errors.New("invalid reminder policy")
	ErrInvalidToken  = errors.New("invalid delivery token")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrStorage       = errors.New("storage failure")
)

// StorageError is returned when a store operation failed; the operation had no
// effect.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
