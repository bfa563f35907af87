package adapter

import (
	"errors"
	"fmt"
)

var (
	ErrProviderUnavailable = errors.New("vision provider unavailable")
	ErrCallTimeout         = errors.New("vision provider call timed out")
	ErrInvalidResponse     = errors.New("vision provider returned invalid response")
)

// StatusError is a non-2xx answer from a vendor API. Message carries the
// vendor's own error text so breaker patterns can match it.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrProviderUnavailable }
