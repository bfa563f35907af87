package search

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoBackendConfigured = errors.New("no search backend configured")
	ErrNoResults           = errors.New("search returned no results")
)

// ConfigError means the explicitly configured backend lacks credentials,
// or names no known backend when Missing is empty.
type ConfigError struct {
	Backend string
	Missing []string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("unknown search backend %q", e.Backend)
	}
	return fmt.Sprintf("search backend %q is not configured: missing %s", e.Backend, strings.Join(e.Missing, ", "))
}

// NoResultsError reports a first-page search that found nothing after every
// query attempt. Failures holds the error text of calls that failed.
type NoResultsError struct {
	Backend  string
	Queries  []string
	Failures []string
}

func (e *NoResultsError) Error() string {
	msg := fmt.Sprintf("%s: backend %s, queries %q", ErrNoResults, e.Backend, e.Queries)
	if len(e.Failures) > 0 {
		msg += " (" + strings.Join(e.Failures, "; ") + ")"
	}
	return msg
}

func (e *NoResultsError) Unwrap() error { return ErrNoResults }
