package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
)

// TimeoutError reports that a unit of work exceeded its deadline. It carries
// the deadline that was configured so callers can classify and report it.
type TimeoutError struct {
	Timeout time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Timeout)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te TimeoutError
	return errors.As(err, &te)
}

// CanceledError reports a cooperative cancellation with an optional
// human-readable reason.
type CanceledError struct {
	Reason string
}

func (e CanceledError) Error() string {
	if e.Reason == "" {
		return "canceled"
	}
	return fmt.Sprintf("canceled: %s", e.Reason)
}

// IsCanceled reports whether err is a cancellation: either a CanceledError
// or a plain context cancellation.
func IsCanceled(err error) bool {
	var ce CanceledError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
