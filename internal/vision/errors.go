package vision

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoProvidersAvailable = errors.New("no vision providers available")
	ErrAllProvidersFailed   = errors.New("all vision providers failed")
	ErrUnknownProvider      = errors.New("unknown vision provider")
)

// ProviderFailure is one provider's reason for failing a request.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// AllFailedError reports every attempted provider's failure, in dispatch order.
type AllFailedError struct {
	Failures []ProviderFailure
}

func (e *AllFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Provider + ": " + f.Reason
	}
	return fmt.Sprintf("%s (%s)", ErrAllProvidersFailed, strings.Join(parts, "; "))
}

func (e *AllFailedError) Unwrap() error { return ErrAllProvidersFailed }

// UnknownProviderError is returned for single:<name> when name is not active.
type UnknownProviderError struct {
	Name      string
	Available []string
}

func (e *UnknownProviderError) Error() string {
	avail := append([]string(nil), e.Available...)
	sort.Strings(avail)
	return fmt.Sprintf("%s %q; available: %s", ErrUnknownProvider, e.Name, strings.Join(avail, ", "))
}

func (e *UnknownProviderError) Unwrap() error { return ErrUnknownProvider }
