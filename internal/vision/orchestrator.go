package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"golang.org/x/sync/errgroup"
)

const defaultCallTimeout = 45 * time.Second

// ProviderSource yields the active providers in dispatch order.
type ProviderSource interface {
	Ordered(ctx context.Context) ([]models.VisionProvider, error)
}

// HealthRecorder receives every call outcome. health.Tracker implements it.
type HealthRecorder interface {
	RecordSuccess(ctx context.Context, provider string)
	RecordFailure(ctx context.Context, provider string, err error) bool
}

// Ledger persists one row per provider call.
type Ledger interface {
	RecordVisionCall(ctx context.Context, call *models.VisionCall) error
}

// Orchestrator dispatches an image to the providers a mode selects and
// picks the winning result.
type Orchestrator struct {
	providers   ProviderSource
	health      HealthRecorder
	ledger      Ledger
	callTimeout time.Duration
}

// NewOrchestrator creates an Orchestrator. callTimeout bounds each provider call.
func NewOrchestrator(providers ProviderSource, health HealthRecorder, callTimeout time.Duration) *Orchestrator {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Orchestrator{providers: providers, health: health, callTimeout: callTimeout}
}

// WithLedger records every call outcome to l.
func (o *Orchestrator) WithLedger(l Ledger) *Orchestrator {
	o.ledger = l
	return o
}

type callOutcome struct {
	provider string
	result   models.ProviderResult
	latency  time.Duration
	err      error
}

// Analyse identifies the product in image. It returns the highest-quality
// result and every successful result in dispatch order. compare mode uses
// the same dispatch as best; callers show all instead of winner.
func (o *Orchestrator) Analyse(ctx context.Context, image []byte, mode string, hint string) (models.ProviderResult, []models.ProviderResult, error) {
	targets, err := o.targets(ctx, ParseMode(mode))
	if err != nil {
		return models.ProviderResult{}, nil, err
	}

	outcomes := o.dispatch(ctx, targets, image, hint)

	var all []models.ProviderResult
	var failures []ProviderFailure
	for _, out := range outcomes {
		if out.err != nil {
			failures = append(failures, ProviderFailure{Provider: out.provider, Reason: out.err.Error()})
			continue
		}
		all = append(all, out.result)
	}

	winner, ok := Winner(all)
	if !ok {
		return models.ProviderResult{}, nil, &AllFailedError{Failures: failures}
	}
	return winner, all, nil
}

// Winner returns the result with the highest quality score; the earliest
// wins ties. ok is false when results is empty.
func Winner(results []models.ProviderResult) (best models.ProviderResult, ok bool) {
	if len(results) == 0 {
		return models.ProviderResult{}, false
	}
	best = results[0]
	for _, r := range results[1:] {
		if r.QualityScore() > best.QualityScore() {
			best = r
		}
	}
	return best, true
}

// Cheapest returns the provider with the lowest per-call price estimate;
// the earliest wins ties. ok is false when providers is empty.
func Cheapest(providers []models.VisionProvider) (best models.VisionProvider, ok bool) {
	if len(providers) == 0 {
		return nil, false
	}
	best = providers[0]
	for _, p := range providers[1:] {
		if p.Pricing().CheapestRank() < best.Pricing().CheapestRank() {
			best = p
		}
	}
	return best, true
}

func (o *Orchestrator) targets(ctx context.Context, mode Mode) ([]models.VisionProvider, error) {
	ordered, err := o.providers.Ordered(ctx)
	if err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	switch mode.Kind {
	case ModeCheapest:
		cheapest, _ := Cheapest(ordered)
		return []models.VisionProvider{cheapest}, nil
	case ModeSingle:
		names := make([]string, 0, len(ordered))
		for _, p := range ordered {
			if p.Name() == mode.Provider {
				return []models.VisionProvider{p}, nil
			}
			names = append(names, p.Name())
		}
		return nil, &UnknownProviderError{Name: mode.Provider, Available: names}
	default:
		return ordered, nil
	}
}

// dispatch runs every target concurrently. One provider's failure never
// cancels the others, so the group is created without a derived context.
func (o *Orchestrator) dispatch(ctx context.Context, targets []models.VisionProvider, image []byte, hint string) []callOutcome {
	outcomes := make([]callOutcome, len(targets))
	var g errgroup.Group
	for i, p := range targets {
		g.Go(func() error {
			outcomes[i] = o.call(ctx, p, image, hint)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) call(ctx context.Context, p models.VisionProvider, image []byte, hint string) (out callOutcome) {
	out.provider = p.Name()
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("provider panicked: %v", r)
		}
		out.latency = time.Since(start)
		o.record(ctx, out)
	}()

	res, err := p.Analyse(callCtx, image, hint)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", o.callTimeout, err)
		}
		out.err = err
		return out
	}
	out.result = res
	return out
}

// record feeds the breaker and the ledger. Both outlive the request context.
func (o *Orchestrator) record(ctx context.Context, out callOutcome) {
	bg := context.WithoutCancel(ctx)

	if out.err != nil {
		slog.Error("vision provider failed", "provider", out.provider, "latency_ms", out.latency.Milliseconds(), "error", out.err)
		if o.health != nil {
			o.health.RecordFailure(bg, out.provider, out.err)
		}
	} else {
		u := out.result.Usage()
		slog.Info("vision provider succeeded",
			"provider", out.provider,
			"confidence", out.result.Confidence(),
			"quality", out.result.QualityScore(),
			"cost", scoring.FormatCost(u.CostUSD),
			"latency_ms", out.latency.Milliseconds(),
		)
		if o.health != nil {
			o.health.RecordSuccess(bg, out.provider)
		}
	}

	if o.ledger == nil {
		return
	}
	call := &models.VisionCall{
		ID:        uuid.New().String(),
		Provider:  out.provider,
		Success:   out.err == nil,
		LatencyMS: out.latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if out.err != nil {
		call.Error = out.err.Error()
	} else {
		u := out.result.Usage()
		call.InputTokens, call.OutputTokens, call.CostUSD = u.InputTokens, u.OutputTokens, u.CostUSD
	}
	if err := o.ledger.RecordVisionCall(bg, call); err != nil {
		slog.Error("recording vision call", "provider", out.provider, "error", err)
	}
}
