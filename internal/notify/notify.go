// Package notify delivers operator notifications. Delivery is best effort:
// callers on a request path use Async so a slow or failing sink never
// affects them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier sends a message to the administrators.
type Notifier interface {
	NotifyAdmins(ctx context.Context, message string) error
}

// Webhook posts notifications as JSON to a chat or incident webhook.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook notifier.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func (w *Webhook) NotifyAdmins(ctx context.Context, message string) error {
	body, err := json.Marshal(webhookPayload{
		Text:      message,
		Source:    "snapfind",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("send notification: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Log writes notifications to the structured log. Used when no webhook is configured.
type Log struct{}

func (Log) NotifyAdmins(_ context.Context, message string) error {
	slog.Warn("admin notification", "message", message)
	return nil
}

// Async wraps a Notifier so NotifyAdmins returns immediately. Delivery runs
// in its own goroutine with a fresh timeout; errors and panics are logged.
type Async struct {
	next    Notifier
	timeout time.Duration
}

// NewAsync creates an Async notifier around next.
func NewAsync(next Notifier, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{next: next, timeout: timeout}
}

func (a *Async) NotifyAdmins(_ context.Context, message string) error {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("notifier panicked", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.NotifyAdmins(ctx, message); err != nil {
			slog.Error("admin notification failed", "error", err)
		}
	}()
	return nil
}
