package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 4 << 20

// PostJSON sends body as JSON and returns the raw response. Transport
// failures map to ErrCallTimeout or ErrProviderUnavailable; non-2xx
// answers become a *StatusError.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ClassifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(raw)}
	}
	return raw, nil
}

// ClassifyError maps transport-level errors to sentinel errors.
func ClassifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCallTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrCallTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// errorMessage pulls a human-readable message out of common vendor error
// envelopes, falling back to the start of the body.
func errorMessage(raw []byte) string {
	for _, path := range []string{"error.message", "0.error.message", "message", "error"} {
		if r := gjson.GetBytes(raw, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	s := string(bytes.TrimSpace(raw))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
