// Package transport is the HTTP plumbing shared by the search backends.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Sentinel errors for search backend failures.
var (
	ErrBackendUnreachable = errors.New("search backend unreachable")
	ErrBackendTimeout     = errors.New("search backend timeout")
	ErrBackendResponse    = errors.New("search backend error response")
)

const maxBodyBytes = 8 << 20

// Do sends req and returns the response body. Non-2xx statuses wrap
// ErrBackendResponse and include the start of the body.
func Do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, ClassifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackendResponse, resp.StatusCode, snippet)
	}
	return body, nil
}

// ClassifyError maps transport-level errors to sentinel errors.
func ClassifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}
