package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrStatusChanged  = errors.New("invoice status changed concurrently")
	ErrConcurrentPost = errors.New("invoice was posted concurrently")

	// ErrValidationWarnings is returned when the gateway's pre-flight validation reports the
	// invoice Invalid and the operator did not override it.
	ErrValidationWarnings = errors.New("FBR validation reported the invoice invalid")

	// ErrRejected is returned when the gateway answers a post with Invalid.
	ErrRejected = errors.New("FBR rejected the invoice")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
