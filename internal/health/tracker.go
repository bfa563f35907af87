// Package health implements the durable per-provider circuit breaker.
//
// A provider is closed (dispatchable) until it either fails with an error
// that says the model is permanently gone, or reaches the consecutive
// failure threshold. It then opens and stays open until an administrator
// re-enables it; there is no time-based recovery. Every transition is
// written to the Store before anything in memory changes.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/kiranshivaraju/snapfind/internal/notify"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

const (
	defaultThreshold = 3
	maxReasonLen     = 500
)

// Store persists breaker state. Implementations must make IncrementFailure
// atomic across concurrent callers and processes.
type Store interface {
	IncrementFailure(ctx context.Context, provider, reason string) (int, error)
	ResetFailures(ctx context.Context, provider string) error
	MarkDisabled(ctx context.Context, provider, reason string) error
	MarkEnabled(ctx context.Context, provider string) error
	DisabledSet(ctx context.Context) (map[string]bool, error)
	AllHealth(ctx context.Context) ([]models.ProviderHealthRecord, error)
}

// Invalidator drops a cache that depends on the disabled set.
type Invalidator interface {
	Invalidate()
}

// Config tunes when the breaker opens.
type Config struct {
	FailureThreshold int
	GonePatterns     []string
}

// Tracker records call outcomes and opens or closes provider breakers.
type Tracker struct {
	store     Store
	notifier  notify.Notifier
	threshold int
	gone      []string

	mu           sync.Mutex
	opening      map[string]bool
	invalidators []Invalidator
}

// NewTracker creates a Tracker. notifier may be nil; otherwise it is called
// asynchronously so a slow sink never delays a vision call.
func NewTracker(store Store, notifier notify.Notifier, cfg Config) *Tracker {
	if notifier != nil {
		if _, ok := notifier.(*notify.Async); !ok {
			notifier = notify.NewAsync(notifier, 0)
		}
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	gone := make([]string, 0, len(cfg.GonePatterns))
	for _, p := range cfg.GonePatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			gone = append(gone, p)
		}
	}
	return &Tracker{
		store:     store,
		notifier:  notifier,
		threshold: threshold,
		gone:      gone,
		opening:   make(map[string]bool),
	}
}

// AddInvalidator registers a cache to drop on every breaker transition.
func (t *Tracker) AddInvalidator(inv Invalidator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalidators = append(t.invalidators, inv)
}

// IsGone reports whether err says the provider or model no longer exists.
func (t *Tracker) IsGone(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range t.gone {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// RecordSuccess resets the consecutive failure count. Store errors are logged.
func (t *Tracker) RecordSuccess(ctx context.Context, provider string) {
	if err := t.store.ResetFailures(ctx, provider); err != nil {
		slog.Error("reset provider failures", "provider", provider, "error", err)
	}
}

// RecordFailure counts a failed call and opens the breaker when the error
// is a gone signature or the threshold is reached. It returns true when
// this call opened the breaker. Store errors are logged, never returned.
func (t *Tracker) RecordFailure(ctx context.Context, provider string, callErr error) bool {
	reason := truncate(errString(callErr), maxReasonLen)

	count, err := t.store.IncrementFailure(ctx, provider, reason)
	if err != nil {
		slog.Error("increment provider failures", "provider", provider, "error", err)
	}

	gone := t.IsGone(callErr)
	if !gone && (err != nil || count < t.threshold) {
		return false
	}

	// one transition per provider at a time in this process
	if !t.claimOpen(provider) {
		return false
	}
	defer t.releaseOpen(provider)

	disabled, err := t.store.DisabledSet(ctx)
	if err != nil {
		slog.Error("read disabled providers", "error", err)
	} else if disabled[provider] {
		return false
	}

	if err := t.store.MarkDisabled(ctx, provider, reason); err != nil {
		slog.Error("disable provider", "provider", provider, "error", err)
		return false
	}
	t.invalidate()

	var msg string
	if gone {
		msg = fmt.Sprintf("Vision provider %s was disabled: it reported the model is unavailable (%s). Re-enable it once fixed.", provider, reason)
	} else {
		msg = fmt.Sprintf("Vision provider %s was disabled after %d consecutive failures. Last error: %s", provider, count, reason)
	}
	slog.Warn("provider circuit opened", "provider", provider, "gone", gone, "consecutive_failures", count, "reason", reason)
	t.notify(ctx, msg)
	return true
}

// Reenable closes the breaker for provider and makes it dispatchable again.
func (t *Tracker) Reenable(ctx context.Context, provider string) error {
	if provider == "" {
		return errors.New("provider name is required")
	}
	if err := t.store.MarkEnabled(ctx, provider); err != nil {
		return fmt.Errorf("re-enable %s: %w", provider, err)
	}
	t.invalidate()
	slog.Info("provider circuit closed", "provider", provider)
	return nil
}

// Snapshot returns the persisted breaker state of every provider that has failed.
func (t *Tracker) Snapshot(ctx context.Context) ([]models.ProviderHealthRecord, error) {
	return t.store.AllHealth(ctx)
}

// Disabled returns the set of open breakers.
func (t *Tracker) Disabled(ctx context.Context) (map[string]bool, error) {
	return t.store.DisabledSet(ctx)
}

func (t *Tracker) claimOpen(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opening[provider] {
		return false
	}
	t.opening[provider] = true
	return true
}

func (t *Tracker) releaseOpen(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.opening, provider)
}

func (t *Tracker) invalidate() {
	t.mu.Lock()
	invs := append([]Invalidator(nil), t.invalidators...)
	t.mu.Unlock()
	for _, inv := range invs {
		inv.Invalidate()
	}
}

func (t *Tracker) notify(ctx context.Context, msg string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.NotifyAdmins(ctx, msg); err != nil {
		slog.Error("admin notification failed", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
